package health

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nxtg-ai/voxbridge/pkg/knowledge"
)

func TestKnowledgeChecker_Ready(t *testing.T) {
	svc := knowledge.NewService([]knowledge.Fact{
		{ID: "NXTG-001", Text: "Voice sessions stream audio both ways.", Category: "product"},
	}, knowledge.NewDisclaimerCatalog(nil))

	c := KnowledgeChecker(svc)
	if c.Name != "knowledge" {
		t.Errorf("Name = %q, want %q", c.Name, "knowledge")
	}
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("Check() = %v, want nil", err)
	}
}

func TestKnowledgeChecker_Unready(t *testing.T) {
	svc := knowledge.NewUnreadyService(knowledge.NewDisclaimerCatalog(nil))

	c := KnowledgeChecker(svc)
	err := c.Check(context.Background())
	if err == nil {
		t.Fatal("Check() = nil, want error for unready service")
	}
	if !strings.Contains(err.Error(), "not loaded") {
		t.Errorf("error = %v, should mention not loaded", err)
	}
}

func TestKnowledgeChecker_Nil(t *testing.T) {
	c := KnowledgeChecker(nil)
	if err := c.Check(context.Background()); err == nil {
		t.Fatal("Check() = nil, want error for nil service")
	}
}

type fakePinger struct {
	err error
}

func (p *fakePinger) Ping(_ context.Context) error { return p.err }

func TestStoreChecker_Healthy(t *testing.T) {
	c := StoreChecker(&fakePinger{})
	if c.Name != "store" {
		t.Errorf("Name = %q, want %q", c.Name, "store")
	}
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("Check() = %v, want nil", err)
	}
}

func TestStoreChecker_PingFails(t *testing.T) {
	wantErr := errors.New("connection refused")
	c := StoreChecker(&fakePinger{err: wantErr})
	err := c.Check(context.Background())
	if !errors.Is(err, wantErr) {
		t.Errorf("Check() = %v, want wrapped %v", err, wantErr)
	}
}

func TestStoreChecker_Nil(t *testing.T) {
	c := StoreChecker(nil)
	if err := c.Check(context.Background()); err == nil {
		t.Fatal("Check() = nil, want error for nil pinger")
	}
}
