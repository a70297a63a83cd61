package types

import (
	"fmt"

	errorsmod "cosmossdk.io/errors"
)

// Stage is the progress of the IBC handshake between the solo machine and a chain.
type Stage int

const (
	StageUninitialized Stage = iota
	StageClientCreated
	StageConnectionOpen
	StageChannelOpen
)

var stageNames = map[Stage]string{
	StageUninitialized:  "uninitialized",
	StageClientCreated:  "client-created",
	StageConnectionOpen: "connection-open",
	StageChannelOpen:    "channel-open",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

func (s Stage) MarshalText() ([]byte, error) {
	if _, ok := stageNames[s]; !ok {
		return nil, errorsmod.Wrapf(ErrSerialization, "unknown stage %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Stage) UnmarshalText(text []byte) error {
	for stage, name := range stageNames {
		if name == string(text) {
			*s = stage
			return nil
		}
	}
	return errorsmod.Wrapf(ErrSerialization, "unknown stage %q", string(text))
}

// ConnectionDetails is filled progressively while the handshake runs. The
// identifiers of a stage are always present once that stage is reached;
// identifiers of the next stage may already be checkpointed while it is in
// progress.
type ConnectionDetails struct {
	// Epoch counts forced restarts of the handshake. The pair (Epoch, Stage)
	// only ever increases.
	Epoch uint64 `json:"epoch,omitempty"`
	Stage Stage  `json:"stage"`

	SoloMachineClientID    ClientID `json:"solo_machine_client_id,omitempty"`
	TendermintClientID     ClientID `json:"tendermint_client_id,omitempty"`
	TendermintClientHeight uint64   `json:"tendermint_client_height,omitempty"`

	TendermintConnectionID  ConnectionID `json:"tendermint_connection_id,omitempty"`
	SoloMachineConnectionID ConnectionID `json:"solo_machine_connection_id,omitempty"`

	SoloMachineChannelID ChannelID `json:"solo_machine_channel_id,omitempty"`
	TendermintChannelID  ChannelID `json:"tendermint_channel_id,omitempty"`
}

// Require fails with a precondition error unless the handshake reached stage.
func (d ConnectionDetails) Require(stage Stage) error {
	if d.Stage < stage {
		return errorsmod.Wrapf(ErrPrecondition, "handshake is at %s, %s required", d.Stage, stage)
	}
	return nil
}

// Advance moves the handshake exactly one stage forward. The identifiers the
// target stage carries must already be set.
func (d *ConnectionDetails) Advance(to Stage) error {
	if to != d.Stage+1 {
		return errorsmod.Wrapf(ErrPrecondition, "cannot move handshake from %s to %s", d.Stage, to)
	}

	var missing string
	switch to {
	case StageClientCreated:
		if d.SoloMachineClientID == "" || d.TendermintClientID == "" || d.TendermintClientHeight == 0 {
			missing = "client ids"
		}
	case StageConnectionOpen:
		if d.TendermintConnectionID == "" || d.SoloMachineConnectionID == "" {
			missing = "connection ids"
		}
	case StageChannelOpen:
		if d.SoloMachineChannelID == "" || d.TendermintChannelID == "" {
			missing = "channel ids"
		}
	}
	if missing != "" {
		return errorsmod.Wrapf(ErrPrecondition, "cannot enter %s without %s", to, missing)
	}

	d.Stage = to
	return nil
}

// Restart returns empty details for a new handshake in the next epoch.
func (d ConnectionDetails) Restart() ConnectionDetails {
	return ConnectionDetails{Epoch: d.Epoch + 1}
}

// ICAChannel tracks the interchain account channel controlled by the solo machine.
type ICAChannel struct {
	Owner                string    `json:"owner"`
	ControllerPortID     PortID    `json:"controller_port_id"`
	SoloMachineChannelID ChannelID `json:"solo_machine_channel_id"`
	TendermintChannelID  ChannelID `json:"tendermint_channel_id,omitempty"`
	Version              string    `json:"version,omitempty"`
	Address              string    `json:"address,omitempty"`
	PacketSequence       uint64    `json:"packet_sequence"`
	Open                 bool      `json:"open"`
}
