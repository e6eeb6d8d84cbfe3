package cli

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mtessaro/stakewatch/internal/chainstream"
	"github.com/mtessaro/stakewatch/internal/events"
	"github.com/mtessaro/stakewatch/internal/pipeline"
	"github.com/mtessaro/stakewatch/internal/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
)

func init() {
	// Initialize logger for tests to prevent nil pointer dereference
	_ = logger.Init(logger.WithLevel("error"))
}

// fakePipeline implements pipeline.Service through function fields.
type fakePipeline struct {
	startFunc func(ctx context.Context) error
	closeFunc func()
}

var _ pipeline.Service = (*fakePipeline)(nil)

func (f *fakePipeline) Start(ctx context.Context) error {
	if f.startFunc != nil {
		return f.startFunc(ctx)
	}
	return nil
}

func (f *fakePipeline) Close() {
	if f.closeFunc != nil {
		f.closeFunc()
	}
}

// fakeNode implements chainstream.LedgerNode; only Liveness matters here.
type fakeNode struct {
	livenessFunc func(ctx context.Context) error
}

var _ chainstream.LedgerNode = (*fakeNode)(nil)

func (f *fakeNode) Liveness(ctx context.Context) error {
	return f.livenessFunc(ctx)
}

func (f *fakeNode) StreamFinalizedBlocksFrom(context.Context, uint64) (<-chan chainstream.BlockEvent, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeNode) BlocksAtHeight(context.Context, uint64) ([]chainstream.BlockHandle, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeNode) TransactionEvents(context.Context, chainstream.BlockHandle) ([]chainstream.Transaction, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeNode) SpecialEvents(context.Context, chainstream.BlockHandle) ([]events.Event, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeNode) BlockTime(context.Context, chainstream.BlockHandle) (time.Time, error) {
	return time.Time{}, errors.New("not implemented")
}

func TestStartPipelineCommand(t *testing.T) {
	t.Run("creates the command with correct metadata", func(t *testing.T) {
		cmd := startPipelineCommand(&fakePipeline{})

		assert.Equal(t, "start", cmd.Name)
		assert.NotNil(t, cmd.Action)
		assert.Len(t, cmd.Flags, 0)
	})

	t.Run("returns the error when pipeline start fails", func(t *testing.T) {
		p := &fakePipeline{
			startFunc: func(context.Context) error { return errors.New("service start error") },
		}

		app := &cli.Command{Commands: []*cli.Command{startPipelineCommand(p)}}

		err := app.Run(t.Context(), []string{"stakewatch", "start"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "service start error")
	})

	t.Run("starts the pipeline and waits for a signal", func(t *testing.T) {
		started := make(chan struct{})
		p := &fakePipeline{
			startFunc: func(context.Context) error {
				close(started)
				return nil
			},
		}

		cmd := startPipelineCommand(p)
		go func() {
			_ = cmd.Action(context.Background(), &cli.Command{})
		}()

		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("pipeline was not started")
		}
	})
}

func TestProbeNodeCommand(t *testing.T) {
	t.Run("creates the command with correct metadata", func(t *testing.T) {
		cmd := probeNodeCommand(&fakeNode{})

		assert.Equal(t, "probe", cmd.Name)
		assert.NotNil(t, cmd.Action)
	})

	t.Run("succeeds when the node is reachable", func(t *testing.T) {
		node := &fakeNode{
			livenessFunc: func(context.Context) error { return nil },
		}

		app := &cli.Command{Commands: []*cli.Command{probeNodeCommand(node)}}
		assert.NoError(t, app.Run(t.Context(), []string{"stakewatch", "probe"}))
	})

	t.Run("fails when the probe fails", func(t *testing.T) {
		node := &fakeNode{
			livenessFunc: func(context.Context) error { return errors.New("node unreachable") },
		}

		app := &cli.Command{Commands: []*cli.Command{probeNodeCommand(node)}}

		err := app.Run(t.Context(), []string{"stakewatch", "probe"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "node unreachable")
	})
}
