package distpow

import (
	"encoding/hex"
	"errors"
	"fmt"

	"example.org/distpow/powlib"
	"example.org/distpow/wire"
)

const ChCapacity = 10

type ClientConfig struct {
	ClientID  string
	CoordAddr string
	// hex encoded 32 byte service id and api key
	ServiceID        string
	APIKey           string
	TracerServerAddr string
	TracerSecret     []byte
}

// Client is a service asking the coordinator for solved block hashes.
type Client struct {
	NotifyChannel powlib.NotifyChannel
	id            string
	coordAddr     string
	pow           *powlib.POW
	tracer        Tracer
	closeTracer   func() error
	initialized   bool
	config        ClientConfig
}

func NewClient(config ClientConfig, pow *powlib.POW) *Client {
	client := &Client{
		id:          config.ClientID,
		coordAddr:   config.CoordAddr,
		pow:         pow,
		config:      config,
		initialized: false,
	}
	return client
}

func decodeKey32(name, s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("%s: %w", name, err)
	}
	if len(b) != len(out) {
		return out, fmt.Errorf("%s: want 32 bytes, got %d", name, len(b))
	}
	copy(out[:], b)
	return out, nil
}

func (c *Client) Initialize() error {
	if c.initialized {
		return errors.New("client has been initialized before")
	}
	serviceID, err := decodeKey32("service id", c.config.ServiceID)
	if err != nil {
		return err
	}
	apiKey, err := decodeKey32("api key", c.config.APIKey)
	if err != nil {
		return err
	}
	ch, err := c.pow.Initialize(c.coordAddr, serviceID, apiKey, ChCapacity)
	if err != nil {
		return err
	}
	c.tracer, c.closeTracer = NewTracer(c.config.TracerServerAddr, c.id, c.config.TracerSecret)
	c.NotifyChannel = ch
	c.initialized = true
	return nil
}

// Mine requests a solution for hash at difficulty; the result arrives on
// NotifyChannel.
func (c *Client) Mine(hash wire.Hash, difficulty wire.Word) error {
	if !c.initialized {
		return powlib.ErrNotInitialized
	}
	return c.pow.Mine(c.tracer, hash, difficulty)
}

func (c *Client) Close() error {
	if !c.initialized {
		return powlib.ErrNotInitialized
	}
	if err := c.closeTracer(); err != nil {
		return err
	}
	if err := c.pow.Close(); err != nil {
		return err
	}
	c.initialized = false
	return nil
}
