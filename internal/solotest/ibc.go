package solotest

import (
	"encoding/hex"
	"fmt"
	"strconv"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	"cosmossdk.io/store/dbadapter"
	storetypes "cosmossdk.io/store/types"
	abci "github.com/cometbft/cometbft/abci/types"
	dbm "github.com/cosmos/cosmos-db"
	cryptotypes "github.com/cosmos/cosmos-sdk/crypto/types"
	sdk "github.com/cosmos/cosmos-sdk/types"
	sdkerrors "github.com/cosmos/cosmos-sdk/types/errors"
	authtypes "github.com/cosmos/cosmos-sdk/x/auth/types"
	banktypes "github.com/cosmos/cosmos-sdk/x/bank/types"
	icatypes "github.com/cosmos/ibc-go/v8/modules/apps/27-interchain-accounts/types"
	transfertypes "github.com/cosmos/ibc-go/v8/modules/apps/transfer/types"
	clienttypes "github.com/cosmos/ibc-go/v8/modules/core/02-client/types"
	conntypes "github.com/cosmos/ibc-go/v8/modules/core/03-connection/types"
	chantypes "github.com/cosmos/ibc-go/v8/modules/core/04-channel/types"
	commitmenttypes "github.com/cosmos/ibc-go/v8/modules/core/23-commitment/types"
	host "github.com/cosmos/ibc-go/v8/modules/core/24-host"
	"github.com/cosmos/ibc-go/v8/modules/core/exported"
	solomachine "github.com/cosmos/ibc-go/v8/modules/light-clients/06-solomachine"
	ibctm "github.com/cosmos/ibc-go/v8/modules/light-clients/07-tendermint"
)

// AttributeVersion is the channel handshake event attribute carrying the
// negotiated version.
const AttributeVersion = "version"

var prefix = commitmenttypes.NewMerklePrefix([]byte("ibc"))

// SoloClient reports the sequence and timestamp the chain tracks for a solo
// machine client.
func (c *Chain) SoloClient(clientID string) (sequence, timestamp uint64, pubKey cryptotypes.PubKey, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cs, err := c.soloClientState(c.ledger, clientID)
	if err != nil {
		return 0, 0, nil, false
	}
	pubKey, err = cs.ConsensusState.GetPubKey()
	if err != nil {
		return 0, 0, nil, false
	}
	return cs.Sequence, cs.ConsensusState.Timestamp, pubKey, true
}

// Connection returns a connection end.
func (c *Chain) Connection(connectionID string) (conntypes.ConnectionEnd, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn, ok := c.ledger.connections[connectionID]
	return conn, ok
}

// Channel returns a channel end.
func (c *Chain) Channel(portID, channelID string) (chantypes.Channel, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.ledger.channels[chanKey(portID, channelID)]
	return ch, ok
}

// PacketCommitment returns the commitment of a packet sent and not yet
// acknowledged.
func (c *Chain) PacketCommitment(portID, channelID string, sequence uint64) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bz, ok := c.ledger.commitments[packetKey(portID, channelID, sequence)]
	return bz, ok
}

// ICAAddress returns the interchain account registered on a host channel.
func (c *Chain) ICAAddress(channelID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	addr, ok := c.ledger.icaAccounts[chanKey(icatypes.HostPortID, channelID)]
	return addr, ok
}

func (c *Chain) execute(l *ledger, msg sdk.Msg, signer string) ([]abci.Event, error) {
	if m, ok := msg.(sdk.HasValidateBasic); ok {
		if err := m.ValidateBasic(); err != nil {
			return nil, errorsmod.Wrap(sdkerrors.ErrInvalidRequest, err.Error())
		}
	}

	switch msg := msg.(type) {
	case *clienttypes.MsgCreateClient:
		return c.createClient(l, msg)
	case *clienttypes.MsgUpdateClient:
		return c.updateClient(l, msg)
	case *conntypes.MsgConnectionOpenInit:
		return c.connectionOpenInit(l, msg)
	case *conntypes.MsgConnectionOpenAck:
		return c.connectionOpenAck(l, msg)
	case *chantypes.MsgChannelOpenTry:
		return c.channelOpenTry(l, msg)
	case *chantypes.MsgChannelOpenConfirm:
		return c.channelOpenConfirm(l, msg)
	case *chantypes.MsgRecvPacket:
		return c.recvPacket(l, msg)
	case *chantypes.MsgAcknowledgement:
		return c.acknowledgePacket(l, msg)
	case *transfertypes.MsgTransfer:
		return c.transfer(l, msg, signer)
	default:
		return nil, errorsmod.Wrapf(sdkerrors.ErrUnknownRequest, "unrecognized message type %s", sdk.MsgTypeURL(msg))
	}
}

func (c *Chain) createClient(l *ledger, msg *clienttypes.MsgCreateClient) ([]abci.Event, error) {
	var cs exported.ClientState
	if err := c.cdc.InterfaceRegistry.UnpackAny(msg.ClientState, &cs); err != nil {
		return nil, errorsmod.Wrap(sdkerrors.ErrInvalidType, err.Error())
	}
	soloState, ok := cs.(*solomachine.ClientState)
	if !ok {
		return nil, errorsmod.Wrapf(sdkerrors.ErrInvalidType, "unsupported client state %T", cs)
	}
	if soloState.IsFrozen || soloState.ConsensusState == nil {
		return nil, errorsmod.Wrap(sdkerrors.ErrInvalidRequest, "invalid solo machine client state")
	}
	if _, err := soloState.ConsensusState.GetPubKey(); err != nil {
		return nil, errorsmod.Wrap(sdkerrors.ErrInvalidPubKey, err.Error())
	}
	bz, err := c.cdc.Marshaler.MarshalInterface(soloState)
	if err != nil {
		return nil, err
	}

	clientID := clienttypes.FormatClientIdentifier(exported.Solomachine, l.clientCount)
	l.clientCount++
	l.clients[clientID] = bz
	return []abci.Event{event(clienttypes.EventTypeCreateClient,
		clienttypes.AttributeKeyClientID, clientID,
		clienttypes.AttributeKeyClientType, exported.Solomachine,
		clienttypes.AttributeKeyConsensusHeight, clienttypes.NewHeight(0, soloState.Sequence).String(),
	)}, nil
}

func (c *Chain) updateClient(l *ledger, msg *clienttypes.MsgUpdateClient) ([]abci.Event, error) {
	var clientMsg exported.ClientMessage
	if err := c.cdc.InterfaceRegistry.UnpackAny(msg.ClientMessage, &clientMsg); err != nil {
		return nil, errorsmod.Wrap(sdkerrors.ErrInvalidType, err.Error())
	}
	if _, ok := clientMsg.(*solomachine.Header); !ok {
		return nil, errorsmod.Wrapf(sdkerrors.ErrInvalidType, "unsupported client message %T", clientMsg)
	}

	var heights []exported.Height
	err := c.withSoloClient(l, msg.ClientId, func(ctx sdk.Context, store storetypes.KVStore, cs *solomachine.ClientState) error {
		if err := cs.VerifyClientMessage(ctx, c.cdc.Marshaler, store, clientMsg); err != nil {
			return errorsmod.Wrap(sdkerrors.ErrUnauthorized, err.Error())
		}
		heights = cs.UpdateState(ctx, c.cdc.Marshaler, store, clientMsg)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return []abci.Event{event(clienttypes.EventTypeUpdateClient,
		clienttypes.AttributeKeyClientID, msg.ClientId,
		clienttypes.AttributeKeyConsensusHeight, heights[0].String(),
	)}, nil
}

// verifyMembership checks a solo machine proof that path holds value with
// the light client, which advances the client sequence.
func (c *Chain) verifyMembership(l *ledger, clientID string, proofBz []byte, path string, value []byte) error {
	merklePath, err := commitmenttypes.ApplyPrefix(prefix, commitmenttypes.NewMerklePath(path))
	if err != nil {
		return err
	}
	return c.withSoloClient(l, clientID, func(ctx sdk.Context, store storetypes.KVStore, cs *solomachine.ClientState) error {
		if err := cs.VerifyMembership(ctx, store, c.cdc.Marshaler, cs.GetLatestHeight(), 0, 0, proofBz, merklePath, value); err != nil {
			return errorsmod.Wrapf(sdkerrors.ErrUnauthorized, "path %s: %s", path, err)
		}
		return nil
	})
}

// soloClientState decodes the client state the ledger holds for clientID.
func (c *Chain) soloClientState(l *ledger, clientID string) (*solomachine.ClientState, error) {
	bz, ok := l.clients[clientID]
	if !ok {
		return nil, errorsmod.Wrapf(sdkerrors.ErrNotFound, "client %s", clientID)
	}
	var cs exported.ClientState
	if err := c.cdc.Marshaler.UnmarshalInterface(bz, &cs); err != nil {
		return nil, err
	}
	soloState, ok := cs.(*solomachine.ClientState)
	if !ok {
		return nil, errorsmod.Wrapf(sdkerrors.ErrInvalidType, "client %s is %T", clientID, cs)
	}
	return soloState, nil
}

// withSoloClient runs fn against a client store holding the state of
// clientID and keeps what fn leaves in it when fn succeeds.
func (c *Chain) withSoloClient(l *ledger, clientID string, fn func(ctx sdk.Context, store storetypes.KVStore, cs *solomachine.ClientState) error) error {
	cs, err := c.soloClientState(l, clientID)
	if err != nil {
		return err
	}
	store := dbadapter.Store{DB: dbm.NewMemDB()}
	store.Set(host.ClientStateKey(), l.clients[clientID])

	if err := fn(sdk.Context{}, store, cs); err != nil {
		return err
	}
	l.clients[clientID] = store.Get(host.ClientStateKey())
	return nil
}

func (c *Chain) connectionOpenInit(l *ledger, msg *conntypes.MsgConnectionOpenInit) ([]abci.Event, error) {
	if _, ok := l.clients[msg.ClientId]; !ok {
		return nil, errorsmod.Wrapf(sdkerrors.ErrNotFound, "client %s", msg.ClientId)
	}
	versions := conntypes.GetCompatibleVersions()
	if msg.Version != nil {
		versions = []*conntypes.Version{msg.Version}
	}
	connectionID := conntypes.FormatConnectionIdentifier(l.connectionCount)
	l.connectionCount++
	l.connections[connectionID] = conntypes.NewConnectionEnd(conntypes.INIT, msg.ClientId, msg.Counterparty, versions, msg.DelayPeriod)

	return []abci.Event{event(conntypes.EventTypeConnectionOpenInit,
		conntypes.AttributeKeyConnectionID, connectionID,
		conntypes.AttributeKeyClientID, msg.ClientId,
		conntypes.AttributeKeyCounterpartyClientID, msg.Counterparty.ClientId,
	)}, nil
}

func (c *Chain) connectionOpenAck(l *ledger, msg *conntypes.MsgConnectionOpenAck) ([]abci.Event, error) {
	conn, ok := l.connections[msg.ConnectionId]
	if !ok {
		return nil, errorsmod.Wrapf(sdkerrors.ErrNotFound, "connection %s", msg.ConnectionId)
	}
	if conn.State != conntypes.INIT {
		return nil, errorsmod.Wrapf(sdkerrors.ErrInvalidRequest, "connection %s is %s", msg.ConnectionId, conn.State)
	}

	var cs exported.ClientState
	if err := c.cdc.InterfaceRegistry.UnpackAny(msg.ClientState, &cs); err != nil {
		return nil, errorsmod.Wrap(sdkerrors.ErrInvalidType, err.Error())
	}
	if err := c.validateSelfClient(cs); err != nil {
		return nil, err
	}

	expected := conntypes.NewConnectionEnd(
		conntypes.TRYOPEN,
		conn.Counterparty.ClientId,
		conntypes.NewCounterparty(conn.ClientId, msg.ConnectionId, prefix),
		[]*conntypes.Version{msg.Version},
		conn.DelayPeriod,
	)
	connBz, err := c.cdc.Marshaler.Marshal(&expected)
	if err != nil {
		return nil, err
	}
	if err := c.verifyMembership(l, conn.ClientId, msg.ProofTry, host.ConnectionPath(msg.CounterpartyConnectionId), connBz); err != nil {
		return nil, err
	}

	clientBz, err := c.cdc.Marshaler.MarshalInterface(cs)
	if err != nil {
		return nil, err
	}
	if err := c.verifyMembership(l, conn.ClientId, msg.ProofClient, host.FullClientStatePath(conn.Counterparty.ClientId), clientBz); err != nil {
		return nil, err
	}

	header, ok := c.headers[int64(msg.ConsensusHeight.RevisionHeight)]
	if !ok {
		return nil, errorsmod.Wrapf(sdkerrors.ErrNotFound, "no header at consensus height %s", msg.ConsensusHeight)
	}
	consensus := ibctm.NewConsensusState(header.Time, commitmenttypes.NewMerkleRoot(header.AppHash), header.NextValidatorsHash)
	consensusBz, err := c.cdc.Marshaler.MarshalInterface(consensus)
	if err != nil {
		return nil, err
	}
	if err := c.verifyMembership(l, conn.ClientId, msg.ProofConsensus,
		host.FullConsensusStatePath(conn.Counterparty.ClientId, msg.ConsensusHeight), consensusBz); err != nil {
		return nil, err
	}

	conn.State = conntypes.OPEN
	conn.Versions = []*conntypes.Version{msg.Version}
	conn.Counterparty.ConnectionId = msg.CounterpartyConnectionId
	l.connections[msg.ConnectionId] = conn

	return []abci.Event{event(conntypes.EventTypeConnectionOpenAck,
		conntypes.AttributeKeyConnectionID, msg.ConnectionId,
		conntypes.AttributeKeyClientID, conn.ClientId,
		conntypes.AttributeKeyCounterpartyClientID, conn.Counterparty.ClientId,
		conntypes.AttributeKeyCounterpartyConnectionID, msg.CounterpartyConnectionId,
	)}, nil
}

// validateSelfClient checks the tendermint client the solo machine claims to
// track this chain with.
func (c *Chain) validateSelfClient(cs exported.ClientState) error {
	tm, ok := cs.(*ibctm.ClientState)
	if !ok {
		return errorsmod.Wrapf(sdkerrors.ErrInvalidType, "self client must be tendermint, got %T", cs)
	}
	switch {
	case tm.ChainId != c.id:
		return errorsmod.Wrapf(sdkerrors.ErrInvalidRequest, "invalid chain-id, expected %s, got %s", c.id, tm.ChainId)
	case !tm.FrozenHeight.IsZero():
		return errorsmod.Wrap(sdkerrors.ErrInvalidRequest, "client is frozen")
	case int64(tm.LatestHeight.RevisionHeight) >= c.height:
		return errorsmod.Wrapf(sdkerrors.ErrInvalidRequest, "client height %s must be less than current height %d", tm.LatestHeight, c.height)
	case tm.UnbondingPeriod != c.unbonding:
		return errorsmod.Wrapf(sdkerrors.ErrInvalidRequest, "invalid unbonding period, expected %s, got %s", c.unbonding, tm.UnbondingPeriod)
	case tm.TrustingPeriod >= tm.UnbondingPeriod:
		return errorsmod.Wrapf(sdkerrors.ErrInvalidRequest, "trusting period %s must be less than unbonding period %s", tm.TrustingPeriod, tm.UnbondingPeriod)
	}
	return nil
}

func (c *Chain) channelOpenTry(l *ledger, msg *chantypes.MsgChannelOpenTry) ([]abci.Event, error) {
	if len(msg.Channel.ConnectionHops) != 1 {
		return nil, errorsmod.Wrap(sdkerrors.ErrInvalidRequest, "exactly one connection hop expected")
	}
	connectionID := msg.Channel.ConnectionHops[0]
	conn, ok := l.connections[connectionID]
	if !ok || conn.State != conntypes.OPEN {
		return nil, errorsmod.Wrapf(sdkerrors.ErrInvalidRequest, "connection %s is not open", connectionID)
	}

	channelID := chantypes.FormatChannelIdentifier(l.channelCount)
	version, icaAddress, err := c.negotiate(msg, conn, connectionID, channelID)
	if err != nil {
		return nil, err
	}

	counterparty := msg.Channel.Counterparty
	expected := chantypes.NewChannel(
		chantypes.INIT,
		msg.Channel.Ordering,
		chantypes.NewCounterparty(msg.PortId, ""),
		[]string{conn.Counterparty.ConnectionId},
		msg.CounterpartyVersion,
	)
	bz, err := c.cdc.Marshaler.Marshal(&expected)
	if err != nil {
		return nil, err
	}
	if err := c.verifyMembership(l, conn.ClientId, msg.ProofInit, host.ChannelPath(counterparty.PortId, counterparty.ChannelId), bz); err != nil {
		return nil, err
	}

	l.channelCount++
	l.channels[chanKey(msg.PortId, channelID)] = chantypes.NewChannel(
		chantypes.TRYOPEN, msg.Channel.Ordering, counterparty, msg.Channel.ConnectionHops, version)
	l.nextSend[chanKey(msg.PortId, channelID)] = 1
	l.nextRecv[chanKey(msg.PortId, channelID)] = 1
	if icaAddress != "" {
		l.icaAccounts[chanKey(msg.PortId, channelID)] = icaAddress
	}

	return []abci.Event{event(chantypes.EventTypeChannelOpenTry,
		chantypes.AttributeKeyPortID, msg.PortId,
		chantypes.AttributeKeyChannelID, channelID,
		chantypes.AttributeCounterpartyPortID, counterparty.PortId,
		chantypes.AttributeCounterpartyChannelID, counterparty.ChannelId,
		chantypes.AttributeKeyConnectionID, connectionID,
		AttributeVersion, version,
	)}, nil
}

// negotiate runs the application callback of the port a channel opens on and
// returns the version the chain settles on.
func (c *Chain) negotiate(msg *chantypes.MsgChannelOpenTry, conn conntypes.ConnectionEnd, connectionID, channelID string) (string, string, error) {
	switch msg.PortId {
	case transfertypes.PortID:
		if msg.Channel.Ordering != chantypes.UNORDERED {
			return "", "", errorsmod.Wrap(sdkerrors.ErrInvalidRequest, "transfer channels must be unordered")
		}
		if msg.CounterpartyVersion != transfertypes.Version {
			return "", "", errorsmod.Wrapf(sdkerrors.ErrInvalidRequest, "invalid counterparty version %s", msg.CounterpartyVersion)
		}
		return transfertypes.Version, "", nil

	case icatypes.HostPortID:
		if msg.Channel.Ordering != chantypes.ORDERED {
			return "", "", errorsmod.Wrap(sdkerrors.ErrInvalidRequest, "interchain account channels must be ordered")
		}
		var metadata icatypes.Metadata
		if err := c.cdc.Marshaler.UnmarshalJSON([]byte(msg.CounterpartyVersion), &metadata); err != nil {
			return "", "", errorsmod.Wrap(sdkerrors.ErrInvalidRequest, err.Error())
		}
		if metadata.HostConnectionId != connectionID || metadata.ControllerConnectionId != conn.Counterparty.ConnectionId {
			return "", "", errorsmod.Wrap(sdkerrors.ErrInvalidRequest, "interchain account metadata does not match connection")
		}
		if metadata.Encoding != icatypes.EncodingProtobuf || metadata.TxType != icatypes.TxTypeSDKMultiMsg {
			return "", "", errorsmod.Wrap(sdkerrors.ErrInvalidRequest, "unsupported interchain account encoding")
		}
		addr, err := sdk.Bech32ifyAddressBytes(c.prefix, authtypes.NewModuleAddress(msg.Channel.Counterparty.PortId+connectionID))
		if err != nil {
			return "", "", err
		}
		metadata.Address = addr
		bz, err := c.cdc.Marshaler.MarshalJSON(&metadata)
		if err != nil {
			return "", "", err
		}
		return string(bz), addr, nil

	default:
		return "", "", errorsmod.Wrapf(sdkerrors.ErrInvalidRequest, "no module bound to port %s", msg.PortId)
	}
}

func (c *Chain) channelOpenConfirm(l *ledger, msg *chantypes.MsgChannelOpenConfirm) ([]abci.Event, error) {
	key := chanKey(msg.PortId, msg.ChannelId)
	ch, ok := l.channels[key]
	if !ok {
		return nil, errorsmod.Wrapf(sdkerrors.ErrNotFound, "channel %s", key)
	}
	if ch.State != chantypes.TRYOPEN {
		return nil, errorsmod.Wrapf(sdkerrors.ErrInvalidRequest, "channel %s is %s", key, ch.State)
	}
	conn := l.connections[ch.ConnectionHops[0]]

	expected := chantypes.NewChannel(
		chantypes.OPEN,
		ch.Ordering,
		chantypes.NewCounterparty(msg.PortId, msg.ChannelId),
		[]string{conn.Counterparty.ConnectionId},
		ch.Version,
	)
	bz, err := c.cdc.Marshaler.Marshal(&expected)
	if err != nil {
		return nil, err
	}
	if err := c.verifyMembership(l, conn.ClientId, msg.ProofAck, host.ChannelPath(ch.Counterparty.PortId, ch.Counterparty.ChannelId), bz); err != nil {
		return nil, err
	}

	ch.State = chantypes.OPEN
	l.channels[key] = ch
	return []abci.Event{event(chantypes.EventTypeChannelOpenConfirm,
		chantypes.AttributeKeyPortID, msg.PortId,
		chantypes.AttributeKeyChannelID, msg.ChannelId,
		chantypes.AttributeKeyConnectionID, ch.ConnectionHops[0],
	)}, nil
}

func (c *Chain) recvPacket(l *ledger, msg *chantypes.MsgRecvPacket) ([]abci.Event, error) {
	packet := msg.Packet
	key := chanKey(packet.DestinationPort, packet.DestinationChannel)
	ch, ok := l.channels[key]
	if !ok || ch.State != chantypes.OPEN {
		return nil, errorsmod.Wrapf(sdkerrors.ErrInvalidRequest, "channel %s is not open", key)
	}
	if packet.SourcePort != ch.Counterparty.PortId || packet.SourceChannel != ch.Counterparty.ChannelId {
		return nil, errorsmod.Wrapf(sdkerrors.ErrInvalidRequest, "packet source %s/%s does not match counterparty", packet.SourcePort, packet.SourceChannel)
	}
	if !packet.TimeoutHeight.IsZero() && uint64(c.height) >= packet.TimeoutHeight.RevisionHeight {
		return nil, errorsmod.Wrapf(sdkerrors.ErrInvalidRequest, "packet timed out at height %s", packet.TimeoutHeight)
	}

	receiptKey := packetKey(packet.DestinationPort, packet.DestinationChannel, packet.Sequence)
	switch ch.Ordering {
	case chantypes.ORDERED:
		if packet.Sequence != l.nextRecv[key] {
			return nil, errorsmod.Wrapf(sdkerrors.ErrInvalidSequence, "packet sequence %d, expected %d", packet.Sequence, l.nextRecv[key])
		}
		l.nextRecv[key]++
	default:
		if l.receipts[receiptKey] {
			return nil, errorsmod.Wrapf(sdkerrors.ErrInvalidRequest, "packet %s already received", receiptKey)
		}
		l.receipts[receiptKey] = true
	}

	conn := l.connections[ch.ConnectionHops[0]]
	commitment := chantypes.CommitPacket(c.cdc.Marshaler, packet)
	if err := c.verifyMembership(l, conn.ClientId, msg.ProofCommitment,
		host.PacketCommitmentPath(packet.SourcePort, packet.SourceChannel, packet.Sequence), commitment); err != nil {
		return nil, err
	}

	var ack chantypes.Acknowledgement
	switch {
	case c.ackErr != nil:
		ack = chantypes.NewErrorAcknowledgement(c.ackErr)
		c.ackErr = nil
	case packet.DestinationPort == transfertypes.PortID:
		ack = c.receiveTransfer(l, packet)
	case packet.DestinationPort == icatypes.HostPortID:
		ack = c.executeICA(l, packet)
	default:
		return nil, errorsmod.Wrapf(sdkerrors.ErrInvalidRequest, "no module bound to port %s", packet.DestinationPort)
	}

	ackBz := ack.Acknowledgement()
	return []abci.Event{
		event(chantypes.EventTypeRecvPacket, packetAttrs(packet)...),
		event(chantypes.EventTypeWriteAck, append(packetAttrs(packet),
			chantypes.AttributeKeyAckHex, hex.EncodeToString(ackBz))...),
	}, nil
}

// receiveTransfer mints vouchers for a fungible token packet. Failures turn
// into an error acknowledgement and leave the ledger untouched.
func (c *Chain) receiveTransfer(l *ledger, packet chantypes.Packet) chantypes.Acknowledgement {
	var data transfertypes.FungibleTokenPacketData
	if err := c.cdc.Marshaler.UnmarshalJSON(packet.GetData(), &data); err != nil {
		return chantypes.NewErrorAcknowledgement(errorsmod.Wrap(sdkerrors.ErrJSONUnmarshal, err.Error()))
	}
	if err := data.ValidateBasic(); err != nil {
		return chantypes.NewErrorAcknowledgement(err)
	}
	amount, ok := sdkmath.NewIntFromString(data.Amount)
	if !ok {
		return chantypes.NewErrorAcknowledgement(errorsmod.Wrapf(sdkerrors.ErrInvalidCoins, "invalid amount %s", data.Amount))
	}
	if _, err := sdk.GetFromBech32(data.Receiver, c.prefix); err != nil {
		return chantypes.NewErrorAcknowledgement(errorsmod.Wrap(sdkerrors.ErrInvalidAddress, err.Error()))
	}

	fullDenom := transfertypes.GetPrefixedDenom(packet.DestinationPort, packet.DestinationChannel, data.Denom)
	voucher := transfertypes.ParseDenomTrace(fullDenom).IBCDenom()
	l.traces[voucher] = fullDenom
	l.balances[data.Receiver] = l.balances[data.Receiver].Add(sdk.NewCoin(voucher, amount))
	return chantypes.NewResultAcknowledgement([]byte{byte(1)})
}

// executeICA runs the bank sends an interchain account packet carries.
func (c *Chain) executeICA(l *ledger, packet chantypes.Packet) chantypes.Acknowledgement {
	account := l.icaAccounts[chanKey(packet.DestinationPort, packet.DestinationChannel)]

	var data icatypes.InterchainAccountPacketData
	if err := c.cdc.Marshaler.UnmarshalJSON(packet.GetData(), &data); err != nil {
		return chantypes.NewErrorAcknowledgement(errorsmod.Wrap(sdkerrors.ErrJSONUnmarshal, err.Error()))
	}
	if data.Type != icatypes.EXECUTE_TX {
		return chantypes.NewErrorAcknowledgement(errorsmod.Wrapf(sdkerrors.ErrInvalidRequest, "unsupported packet type %s", data.Type))
	}
	var tx icatypes.CosmosTx
	if err := c.cdc.Marshaler.Unmarshal(data.Data, &tx); err != nil {
		return chantypes.NewErrorAcknowledgement(errorsmod.Wrap(sdkerrors.ErrTxDecode, err.Error()))
	}

	balances := make(map[string]sdk.Coins)
	get := func(addr string) sdk.Coins {
		if b, ok := balances[addr]; ok {
			return b
		}
		return l.balances[addr]
	}
	for _, a := range tx.Messages {
		var msg sdk.Msg
		if err := c.cdc.InterfaceRegistry.UnpackAny(a, &msg); err != nil {
			return chantypes.NewErrorAcknowledgement(errorsmod.Wrap(sdkerrors.ErrTxDecode, err.Error()))
		}
		send, ok := msg.(*banktypes.MsgSend)
		if !ok {
			return chantypes.NewErrorAcknowledgement(errorsmod.Wrapf(sdkerrors.ErrUnauthorized, "message %s is not allowed", sdk.MsgTypeURL(msg)))
		}
		if send.FromAddress != account {
			return chantypes.NewErrorAcknowledgement(errorsmod.Wrapf(sdkerrors.ErrUnauthorized, "sender %s is not the interchain account", send.FromAddress))
		}
		remaining, negative := get(send.FromAddress).SafeSub(send.Amount...)
		if negative {
			return chantypes.NewErrorAcknowledgement(errorsmod.Wrapf(sdkerrors.ErrInsufficientFunds, "%s is smaller than %s", get(send.FromAddress), send.Amount))
		}
		balances[send.FromAddress] = remaining
		balances[send.ToAddress] = get(send.ToAddress).Add(send.Amount...)
	}
	for addr, coins := range balances {
		l.balances[addr] = coins
	}
	return chantypes.NewResultAcknowledgement([]byte{byte(1)})
}

func (c *Chain) transfer(l *ledger, msg *transfertypes.MsgTransfer, signer string) ([]abci.Event, error) {
	if msg.Sender != signer {
		return nil, errorsmod.Wrapf(sdkerrors.ErrUnauthorized, "sender %s is not the signer", msg.Sender)
	}
	key := chanKey(msg.SourcePort, msg.SourceChannel)
	ch, ok := l.channels[key]
	if !ok || ch.State != chantypes.OPEN {
		return nil, errorsmod.Wrapf(sdkerrors.ErrInvalidRequest, "channel %s is not open", key)
	}
	conn := l.connections[ch.ConnectionHops[0]]
	cl, err := c.soloClientState(l, conn.ClientId)
	if err != nil {
		return nil, err
	}
	if !msg.TimeoutHeight.IsZero() && cl.Sequence >= msg.TimeoutHeight.RevisionHeight {
		return nil, errorsmod.Wrapf(sdkerrors.ErrInvalidRequest, "timeout height %s already passed on the counterparty", msg.TimeoutHeight)
	}

	balance := l.balances[msg.Sender]
	remaining, negative := balance.SafeSub(msg.Token)
	if negative {
		return nil, errorsmod.Wrapf(sdkerrors.ErrInsufficientFunds, "%s is smaller than %s", balance, msg.Token)
	}
	l.balances[msg.Sender] = remaining

	fullDenom := msg.Token.Denom
	if isVoucher(fullDenom) {
		trace, ok := l.traces[fullDenom]
		if !ok {
			return nil, errorsmod.Wrapf(sdkerrors.ErrInvalidCoins, "unknown denomination %s", fullDenom)
		}
		fullDenom = trace
	}
	data := transfertypes.NewFungibleTokenPacketData(fullDenom, msg.Token.Amount.String(), msg.Sender, msg.Receiver, msg.Memo)

	sequence := l.nextSend[key]
	l.nextSend[key] = sequence + 1
	packet := chantypes.NewPacket(data.GetBytes(), sequence, msg.SourcePort, msg.SourceChannel,
		ch.Counterparty.PortId, ch.Counterparty.ChannelId, msg.TimeoutHeight, msg.TimeoutTimestamp)
	l.commitments[packetKey(msg.SourcePort, msg.SourceChannel, sequence)] = chantypes.CommitPacket(c.cdc.Marshaler, packet)

	return []abci.Event{
		event(chantypes.EventTypeSendPacket, append(packetAttrs(packet),
			chantypes.AttributeKeyChannelOrdering, ch.Ordering.String(),
			chantypes.AttributeKeyConnection, ch.ConnectionHops[0])...),
		event(transfertypes.EventTypeTransfer,
			transfertypes.AttributeKeyReceiver, msg.Receiver,
			sdk.AttributeKeyAmount, msg.Token.String()),
	}, nil
}

func (c *Chain) acknowledgePacket(l *ledger, msg *chantypes.MsgAcknowledgement) ([]abci.Event, error) {
	packet := msg.Packet
	key := packetKey(packet.SourcePort, packet.SourceChannel, packet.Sequence)
	commitment, ok := l.commitments[key]
	if !ok {
		return nil, errorsmod.Wrapf(sdkerrors.ErrNotFound, "no commitment for packet %s", key)
	}
	if string(commitment) != string(chantypes.CommitPacket(c.cdc.Marshaler, packet)) {
		return nil, errorsmod.Wrapf(sdkerrors.ErrInvalidRequest, "packet %s does not match its commitment", key)
	}

	ch := l.channels[chanKey(packet.SourcePort, packet.SourceChannel)]
	conn := l.connections[ch.ConnectionHops[0]]
	if err := c.verifyMembership(l, conn.ClientId, msg.ProofAcked,
		host.PacketAcknowledgementPath(packet.DestinationPort, packet.DestinationChannel, packet.Sequence),
		chantypes.CommitAcknowledgement(msg.Acknowledgement)); err != nil {
		return nil, err
	}

	delete(l.commitments, key)
	return []abci.Event{event(chantypes.EventTypeAcknowledgePacket, packetAttrs(packet)...)}, nil
}

func packetAttrs(packet chantypes.Packet) []string {
	return []string{
		chantypes.AttributeKeyDataHex, hex.EncodeToString(packet.Data),
		chantypes.AttributeKeyTimeoutHeight, packet.TimeoutHeight.String(),
		chantypes.AttributeKeyTimeoutTimestamp, strconv.FormatUint(packet.TimeoutTimestamp, 10),
		chantypes.AttributeKeySequence, strconv.FormatUint(packet.Sequence, 10),
		chantypes.AttributeKeySrcPort, packet.SourcePort,
		chantypes.AttributeKeySrcChannel, packet.SourceChannel,
		chantypes.AttributeKeyDstPort, packet.DestinationPort,
		chantypes.AttributeKeyDstChannel, packet.DestinationChannel,
	}
}

// String describes the chain for test failure output.
func (c *Chain) String() string {
	return fmt.Sprintf("solotest.Chain{%s@%d}", c.id, c.Height())
}
