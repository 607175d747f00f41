package bucketguard

import (
	"github.com/mediocregopher/radix/v3"
)

// Client is the subset of a Redis client used by StatsPublisher.
type Client interface {
	DoCmd(rcv interface{}, cmd, key string, args ...interface{}) error
	PipeAppend(pipeline Pipeline, rcv interface{}, cmd, key string, args ...interface{}) Pipeline
	PipeDo(pipeline Pipeline) error
	Close() error
}

// Pipeline is a queue of radix actions for pipelined execution.
type Pipeline []radix.CmdAction

// RadixClient is a Client backed by a radix pool.
type RadixClient struct {
	client             radix.Client
	poolSize           int
	implicitPipelining bool
}

// NewRadixClient builds a radix-backed Client with the given pool size and
// options. When implicitPipelining is true PipeDo executes commands one by
// one; when false PipeDo issues a single pipeline round-trip.
func NewRadixClient(network, addr string, size int, implicitPipelining bool, opts ...radix.PoolOpt) (*RadixClient, error) {
	pool, err := radix.NewPool(network, addr, size, opts...)
	if err != nil {
		return nil, err
	}
	return &RadixClient{
		client:             pool,
		poolSize:           size,
		implicitPipelining: implicitPipelining,
	}, nil
}

// DoCmd executes a single redis command.
func (c *RadixClient) DoCmd(rcv interface{}, cmd, key string, args ...interface{}) error {
	return c.client.Do(radix.FlatCmd(rcv, cmd, key, args...))
}

// PipeAppend appends a command onto the pipeline queue.
func (c *RadixClient) PipeAppend(pipeline Pipeline, rcv interface{}, cmd, key string, args ...interface{}) Pipeline {
	return append(pipeline, radix.FlatCmd(rcv, cmd, key, args...))
}

// PipeDo writes the queued commands to redis.
func (c *RadixClient) PipeDo(pipeline Pipeline) error {
	if len(pipeline) == 0 {
		return nil
	}
	if c.implicitPipelining {
		for _, action := range pipeline {
			if err := c.client.Do(action); err != nil {
				return err
			}
		}
		return nil
	}
	return c.client.Do(radix.Pipeline(pipeline...))
}

// Close shuts down the underlying pool.
func (c *RadixClient) Close() error {
	return c.client.Close()
}

// NumActiveConns returns the number of in-use connections, or -1 when unknown.
func (c *RadixClient) NumActiveConns() int {
	p, ok := c.client.(*radix.Pool)
	if !ok || c.poolSize <= 0 {
		return -1
	}
	return max(c.poolSize-p.NumAvailConns(), 0)
}
