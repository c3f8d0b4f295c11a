package node

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultPeriod of the node processing loop
const DefaultPeriod = time.Millisecond

// [NodeProcessor] runs the host task of a [Node] : ingress draining and
// the network manager tick.
type NodeProcessor struct {
	logger *log.Entry
	node   *Node
	period time.Duration
	cancel context.CancelFunc
	wg     *sync.WaitGroup
}

func NewNodeProcessor(n *Node, logger *log.Logger, period time.Duration) *NodeProcessor {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if period <= 0 {
		period = DefaultPeriod
	}
	return &NodeProcessor{
		logger: logger.WithField("service", "[CTRLR]").WithField("name", n.ShortName().String()),
		node:   n,
		period: period,
		wg:     &sync.WaitGroup{},
	}
}

// Main node processing
func (c *NodeProcessor) main(ctx context.Context) {
	ticker := time.NewTicker(c.period)
	defer ticker.Stop()
	last := time.Now()
	c.logger.Info("starting node main process")
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("exited node main process")
			return
		case now := <-ticker.C:
			c.node.ReceiveManager()
			elapsed := int(now.Sub(last).Milliseconds())
			if elapsed > 0 {
				last = last.Add(time.Duration(elapsed) * time.Millisecond)
				c.node.NetworkManager(elapsed)
			}
		}
	}
}

// Start node processing, this will be run inside of a go routine
// Call Stop() to stop processing or cancel the context
// Call Wait() to wait for end of execution
func (c *NodeProcessor) Start(ctx context.Context) error {
	err := c.node.Start()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.main(ctx)
	}()
	return nil
}

// Stop node processing
// Wait should be called in order to make sure that all routines have been stopped
func (c *NodeProcessor) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// Wait for processing to finish (blocking), the node then releases its id
func (c *NodeProcessor) Wait() error {
	c.wg.Wait()
	c.node.Stop()
	return nil
}

// Get underlying [Node] object
func (c *NodeProcessor) GetNode() *Node {
	return c.node
}
