package cmd

import (
	"errors"
	"fmt"
)

func errConfigNotFound(path string) error {
	return fmt.Errorf("config does not exist: %s; run `%s config init` first", path, appName)
}

var errNoMnemonic = errors.New("no mnemonic found; run `" + appName + " keys new` or `" + appName + " keys restore`, or set SOLO_MACHINE_MNEMONIC")
