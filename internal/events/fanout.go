package events

import (
	"context"

	"wisefido-medication/internal/workflow"
)

// Fanout 依次分发到多个 sink
type Fanout []workflow.EventSink

// Publish 实现 workflow.EventSink
func (f Fanout) Publish(ctx context.Context, e workflow.Event) {
	for _, s := range f {
		if s != nil {
			s.Publish(ctx, e)
		}
	}
}
