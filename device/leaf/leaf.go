// Package leaf holds the protocol state of a leaf sensor node: its device
// EUI, the node number a gateway assigned to it, its clock and its message
// sequence. It builds the messages a leaf sends and applies the gateway's
// responses.
package leaf

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kabili207/sensornet-go/core/clock"
	"github.com/kabili207/sensornet-go/core/codec"
)

var (
	// ErrNotJoined is returned when a message needs a node number and the
	// leaf has not joined yet.
	ErrNotJoined = errors.New("leaf has not joined")
	// ErrNotForUs is returned for a valid message that is not addressed to
	// this leaf or that a leaf does not accept.
	ErrNotForUs = errors.New("message not for this leaf")
)

// Reading is one sensor sample. Scaled fields use codec.DataScale.
type Reading struct {
	Battery        uint16 // Volts * 100
	LastTxDuration uint16 // ms
	Temp           int16  // Degrees C * 100
	Humidity       uint16 // % relative humidity * 100
	Status         uint8
}

// Config configures a Node.
type Config struct {
	DevEUI uint64
	// Clock is corrected from the gateway's responses. Default: a clock
	// following the system time.
	Clock *clock.Clock
	// Logger falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Node is the state of one leaf. It is safe for concurrent use.
type Node struct {
	devEUI uint64
	clock  *clock.Clock
	log    *slog.Logger

	mu   sync.Mutex
	node uint8
	seq  uint32
}

// New creates a leaf that has not joined.
func New(cfg Config) *Node {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Node{
		devEUI: cfg.DevEUI,
		clock:  cfg.Clock,
		log:    logger.WithGroup("leaf").With("dev_eui", fmt.Sprintf("%016x", cfg.DevEUI)),
	}
}

// DevEUI returns the leaf's device EUI.
func (n *Node) DevEUI() uint64 { return n.devEUI }

// Clock returns the leaf's clock.
func (n *Node) Clock() *clock.Clock { return n.clock }

// Node returns the assigned node number, or 0 if the leaf has not joined.
func (n *Node) Node() uint8 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.node
}

// Joined reports whether a gateway has assigned a node number.
func (n *Node) Joined() bool {
	return n.Node() != 0
}

// Sequence returns the number of the last data message built.
func (n *Node) Sequence() uint32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.seq
}

// JoinRequest builds a join request for this leaf.
func (n *Node) JoinRequest() []byte {
	return codec.BuildJoinRequest(n.devEUI)
}

// TimeRequest builds a time request from this leaf's node number.
func (n *Node) TimeRequest() ([]byte, error) {
	node := n.Node()
	if node == 0 {
		return nil, ErrNotJoined
	}
	return codec.BuildTimeRequest(node), nil
}

// DataMessage builds the next data message. Each call uses a new message
// number and the current time of the leaf's clock.
func (n *Node) DataMessage(r Reading) ([]byte, error) {
	n.mu.Lock()
	if n.node == 0 {
		n.mu.Unlock()
		return nil, ErrNotJoined
	}
	n.seq++
	node, seq := n.node, n.seq
	n.mu.Unlock()

	return codec.BuildDataMessage(node, seq, n.clock.Now(), r.Battery, r.LastTxDuration,
		r.Temp, r.Humidity, r.Status), nil
}

// Text builds a text message. Text longer than codec.TextBufLen is truncated.
func (n *Node) Text(s string) ([]byte, error) {
	node := n.Node()
	if node == 0 {
		return nil, ErrNotJoined
	}
	return codec.BuildTextMessage(node, []byte(s)), nil
}

// HandleMessage applies a message received from the gateway. A join
// response addressed to this leaf's EUI byte sets the node number and the
// clock. A time response for this leaf's node number sets the clock.
func (n *Node) HandleMessage(data []byte) error {
	msg, err := codec.Decode(data)
	if err != nil {
		return err
	}

	switch m := msg.(type) {
	case *codec.JoinResponse:
		if m.LeafNode != codec.LeafNodeFromEUI(n.devEUI) {
			return fmt.Errorf("%w: join response for leaf %d", ErrNotForUs, m.LeafNode)
		}
		if m.Node == 0 {
			return fmt.Errorf("%w: join response assigns node 0", ErrNotForUs)
		}
		n.mu.Lock()
		n.node = m.Node
		n.mu.Unlock()
		n.clock.Set(m.Time)
		n.log.Info("joined", "node", m.Node, "time", m.Time)
		return nil

	case *codec.TimeResponse:
		node := n.Node()
		if node == 0 {
			return ErrNotJoined
		}
		if m.Node != node {
			return fmt.Errorf("%w: time response for node %d", ErrNotForUs, m.Node)
		}
		n.clock.Set(m.Time)
		n.log.Debug("clock set", "time", m.Time)
		return nil

	default:
		return fmt.Errorf("%w: %s", ErrNotForUs, msg.Type())
	}
}
