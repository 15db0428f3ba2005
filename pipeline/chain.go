package pipeline

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/goliatone/go-shopify-app/core"
)

const writerKey = "shopify_app.pipeline.writer"

// Stage is one step of the request pipeline. A stage that writes a response
// ends the chain for that request.
type Stage interface {
	Name() string
	Handle(c *gin.Context)
}

// Chain runs stages in a fixed order.
type Chain struct {
	stages []Stage
}

func NewChain(stages ...Stage) (*Chain, error) {
	seen := map[string]struct{}{}
	out := make([]Stage, 0, len(stages))
	for _, stage := range stages {
		if stage == nil {
			return nil, fmt.Errorf("pipeline: stage is nil")
		}
		name := strings.TrimSpace(stage.Name())
		if name == "" {
			return nil, fmt.Errorf("pipeline: stage name is required")
		}
		if _, ok := seen[name]; ok {
			return nil, fmt.Errorf("pipeline: duplicate stage %q", name)
		}
		seen[name] = struct{}{}
		out = append(out, stage)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("pipeline: at least one stage is required")
	}
	return &Chain{stages: out}, nil
}

func (ch *Chain) Stages() []string {
	if ch == nil {
		return nil
	}
	names := make([]string, 0, len(ch.stages))
	for _, stage := range ch.stages {
		names = append(names, stage.Name())
	}
	return names
}

// Handler runs the stages until one of them writes or aborts. A request that
// falls through every stage gets a 404.
func (ch *Chain) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ch.Serve(c)
	}
}

func (ch *Chain) Serve(c *gin.Context) {
	for _, stage := range ch.stages {
		stage.Handle(c)
		if c.Writer.Written() || c.IsAborted() {
			c.Set(writerKey, stage.Name())
			if !c.IsAborted() {
				c.Abort()
			}
			return
		}
	}
	core.WriteError(c, core.NotFoundError("Not Found"))
	c.Set(writerKey, "fallthrough")
}

// WriterStage returns the name of the stage that produced the response.
func WriterStage(c *gin.Context) string {
	if c == nil {
		return ""
	}
	return c.GetString(writerKey)
}
