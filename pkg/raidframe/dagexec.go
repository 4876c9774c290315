// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package raidframe

import (
	"context"
	"crypto/subtle"

	"golang.org/x/sync/errgroup"
	"raidframe.dev/raidframe/pkg/diskqueue"
)

// Execute runs the graph. Every node runs on its own goroutine once its
// dependencies completed. The first failure cancels the remaining nodes;
// a component I/O failure is reported as a *DiskError.
func (d *DAG) Execute(ctx context.Context, sio StripeIO, prio diskqueue.Priority) error {
	done := make([]chan struct{}, len(d.Nodes))
	for i := range done {
		done[i] = make(chan struct{})
	}
	g, gctx := errgroup.WithContext(ctx)
	for i, n := range d.Nodes {
		g.Go(func() error {
			for _, dep := range n.Deps {
				select {
				case <-done[dep]:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			if err := n.run(gctx, sio, prio); err != nil {
				return err
			}
			close(done[i])
			return nil
		})
	}
	return g.Wait()
}

func (n *Node) run(ctx context.Context, sio StripeIO, prio diskqueue.Priority) error {
	switch n.Kind {
	case NodeRead, NodeWrite:
		op := diskqueue.OpRead
		if n.Kind == NodeWrite {
			op = diskqueue.OpWrite
		}
		if err := sio.Submit(ctx, op, n.Col, n.Sector, n.Buf, prio); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &DiskError{Col: n.Col, Op: op, Err: err}
		}
	case NodeXor:
		clear(n.Buf)
		for _, s := range n.Srcs {
			dst := n.Buf[s.Off : s.Off+len(s.Buf)]
			subtle.XORBytes(dst, dst, s.Buf)
		}
	}
	return nil
}
