package fileproc

import (
	"context"
	"testing"
)

type stubProcessor struct {
	label string
	done  bool
}

func (p *stubProcessor) Init(ctx context.Context, data *Data) error { return nil }
func (p *stubProcessor) Deinit(ctx context.Context) (bool, error)  { return false, nil }
func (p *stubProcessor) Processing(ctx context.Context) error      { p.done = true; return nil }
func (p *stubProcessor) HasDoneProcessing() bool                   { return p.done }
func (p *stubProcessor) LabelMatch(label string) bool              { return label == p.label }

func TestRegistry_Instantiate_FirstMatchWins(t *testing.T) {
	reg := NewRegistry()
	reg.Register(func() Processor { return &stubProcessor{label: "video/mp4"} })
	reg.Register(func() Processor { return &stubProcessor{label: "video/mp4-second"} })

	p, err := reg.Instantiate("video/mp4")
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	sp, ok := p.(*stubProcessor)
	if !ok || sp.label != "video/mp4" {
		t.Errorf("expected first registered match, got %+v", p)
	}
}

func TestRegistry_Instantiate_NoMatch(t *testing.T) {
	reg := NewRegistry()
	reg.Register(func() Processor { return &stubProcessor{label: "video/mp4"} })

	if _, err := reg.Instantiate("video/unknown"); err != ErrNoVariantMatch {
		t.Errorf("err = %v, want ErrNoVariantMatch", err)
	}
}
