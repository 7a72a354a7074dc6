package graph

import (
	"errors"
	"testing"

	"github.com/ppiankov/flowguard/internal/label"
	"github.com/ppiankov/flowguard/internal/model"
)

func mustCreate(t *testing.T, g *Graph, integrity label.Integrity, parents ...model.ID) *model.Tagged {
	t.Helper()
	v, err := g.CreateValue(integrity, label.NewConfSet(), nil, parents)
	if err != nil {
		t.Fatalf("CreateValue: %v", err)
	}
	return v
}

func TestCreateValueAssignsSequentialIDs(t *testing.T) {
	g := New(ModeNormal)

	a := mustCreate(t, g, label.Trusted())
	b := mustCreate(t, g, label.Untrusted())

	if a.ID != 1 || b.ID != 2 {
		t.Fatalf("expected ids 1,2, got %d,%d", a.ID, b.ID)
	}
	if g.Len() != 2 {
		t.Fatalf("expected 2 values, got %d", g.Len())
	}
	if g.Version() != 2 {
		t.Fatalf("expected version 2, got %d", g.Version())
	}
}

func TestCreateValueDedupesParents(t *testing.T) {
	g := New(ModeNormal)
	a := mustCreate(t, g, label.Trusted())

	v, err := g.CreateValue(label.Trusted(), label.NewConfSet(), nil, []model.ID{a.ID, a.ID, a.ID})
	if err != nil {
		t.Fatalf("CreateValue: %v", err)
	}
	if len(v.Parents) != 1 {
		t.Fatalf("expected 1 deduped parent, got %d", len(v.Parents))
	}
}

func TestCreateValueStaleParentIsFatal(t *testing.T) {
	g := New(ModeNormal)

	_, err := g.CreateValue(label.Trusted(), label.NewConfSet(), nil, []model.ID{42})
	if !errors.Is(err, ErrStaleValue) {
		t.Fatalf("expected ErrStaleValue, got %v", err)
	}
}

func TestStrictModeAppendsControlDeps(t *testing.T) {
	g := New(ModeStrict)
	cond := mustCreate(t, g, label.Untrusted())

	if err := g.EnterControl(cond.ID); err != nil {
		t.Fatalf("EnterControl: %v", err)
	}
	inside := mustCreate(t, g, label.Trusted())
	if err := g.ExitControl(); err != nil {
		t.Fatalf("ExitControl: %v", err)
	}
	outside := mustCreate(t, g, label.Trusted())

	if len(inside.Parents) != 1 || inside.Parents[0] != cond.ID {
		t.Fatalf("expected inside value to depend on condition, parents=%v", inside.Parents)
	}
	if len(outside.Parents) != 0 {
		t.Fatalf("expected outside value to have no parents, got %v", outside.Parents)
	}
}

func TestNormalModeIgnoresControlDeps(t *testing.T) {
	g := New(ModeNormal)
	cond := mustCreate(t, g, label.Untrusted())

	if err := g.EnterControl(cond.ID); err != nil {
		t.Fatalf("EnterControl: %v", err)
	}
	inside := mustCreate(t, g, label.Trusted())

	if len(inside.Parents) != 0 {
		t.Fatalf("normal mode must not record control deps, got %v", inside.Parents)
	}
}

func TestNestedControlStack(t *testing.T) {
	g := New(ModeStrict)
	c1 := mustCreate(t, g, label.Untrusted())
	c2 := mustCreate(t, g, label.Trusted())

	g.EnterControl(c1.ID)
	g.EnterControl(c2.ID)

	inner := mustCreate(t, g, label.Trusted())
	if len(inner.Parents) != 2 {
		t.Fatalf("expected both conditions as parents, got %v", inner.Parents)
	}
	if g.ControlDepth() != 2 {
		t.Fatalf("expected depth 2, got %d", g.ControlDepth())
	}

	g.ExitControl()
	g.ExitControl()
	if err := g.ExitControl(); !errors.Is(err, ErrControlUnderflow) {
		t.Fatalf("expected ErrControlUnderflow, got %v", err)
	}
}

func TestEnterControlUnknownValue(t *testing.T) {
	g := New(ModeStrict)
	if err := g.EnterControl(7); !errors.Is(err, ErrStaleValue) {
		t.Fatalf("expected ErrStaleValue, got %v", err)
	}
}

func TestContextJoinsControlConditions(t *testing.T) {
	g := New(ModeStrict)

	cond, err := g.CreateValue(label.Untrusted(), label.NewConfSet("pii.email"), nil, nil)
	if err != nil {
		t.Fatalf("CreateValue: %v", err)
	}
	g.EnterControl(cond.ID)
	g.RecordEffect("send_email")
	g.RecordEffect("send_email")

	ctx, err := g.Context()
	if err != nil {
		t.Fatalf("Context: %v", err)
	}
	if !ctx.Integrity.IsUntrusted() {
		t.Fatalf("expected untrusted context, got %s", ctx.Integrity)
	}
	if !ctx.Conf.Contains("pii.email") {
		t.Fatal("expected context conf to carry pii.email")
	}
	if ctx.EffectCount != 2 || ctx.EffectsByTool["send_email"] != 2 {
		t.Fatalf("unexpected effect counters: %+v", ctx)
	}
}

func TestContextEmptyStackIsTrusted(t *testing.T) {
	g := New(ModeStrict)
	ctx, err := g.Context()
	if err != nil {
		t.Fatalf("Context: %v", err)
	}
	if !ctx.Integrity.IsTrusted() || len(ctx.ControlDeps) != 0 {
		t.Fatalf("expected trusted empty context, got %+v", ctx)
	}
}

func TestContainerLinearChain(t *testing.T) {
	g := New(ModeNormal)
	init := mustCreate(t, g, label.Trusted())

	cid, err := g.NewContainer(init.ID)
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}

	input := mustCreate(t, g, label.Untrusted())
	v2, err := g.MutateContainer(cid, label.Untrusted(), label.NewConfSet(), []model.ID{input.ID})
	if err != nil {
		t.Fatalf("MutateContainer: %v", err)
	}
	if len(v2.Parents) != 2 || v2.Parents[0] != init.ID {
		t.Fatalf("mutation must depend on previous version first, parents=%v", v2.Parents)
	}

	cur, err := g.ContainerVersion(cid)
	if err != nil || cur != v2.ID {
		t.Fatalf("expected current version %d, got %d (%v)", v2.ID, cur, err)
	}

	read, err := g.ReadContainer(cid)
	if err != nil {
		t.Fatalf("ReadContainer: %v", err)
	}
	if len(read.Parents) != 1 || read.Parents[0] != v2.ID {
		t.Fatalf("read must depend on current version, parents=%v", read.Parents)
	}

	chain, err := g.ContainerChain(cid)
	if err != nil || len(chain) != 2 {
		t.Fatalf("expected chain length 2, got %v (%v)", chain, err)
	}
}

func TestContainerUnknownIsFatal(t *testing.T) {
	g := New(ModeNormal)
	if _, err := g.ReadContainer(9); !errors.Is(err, ErrUnknownContainer) {
		t.Fatalf("expected ErrUnknownContainer, got %v", err)
	}
	if _, err := g.MutateContainer(9, label.Trusted(), label.NewConfSet(), nil); !errors.Is(err, ErrUnknownContainer) {
		t.Fatalf("expected ErrUnknownContainer, got %v", err)
	}
}

func TestAdoptVerifiedDependsOnSource(t *testing.T) {
	g := New(ModeNormal)
	src, err := g.CreateValue(label.Untrusted(), label.NewConfSet("pii.email"), nil, nil)
	if err != nil {
		t.Fatalf("CreateValue: %v", err)
	}

	verified, err := label.DecodeStoredIntegrity("verified:email_address")
	if err != nil {
		t.Fatalf("DecodeStoredIntegrity: %v", err)
	}
	v, err := g.AdoptVerified(src.ID, verified, src.Conf, nil)
	if err != nil {
		t.Fatalf("AdoptVerified: %v", err)
	}
	if !v.Integrity.IsVerified() || v.Integrity.VerifiedKind() != "email_address" {
		t.Fatalf("expected verified integrity, got %s", v.Integrity)
	}
	if len(v.Parents) != 1 || v.Parents[0] != src.ID {
		t.Fatalf("verified value must depend on source, parents=%v", v.Parents)
	}
	if !v.Conf.Contains("pii.email") {
		t.Fatal("sealed confidentiality must survive verification")
	}
}

func TestCreateValueRejectsVerifiedIntegrity(t *testing.T) {
	g := New(ModeNormal)

	// A verified label decoded from stored state must not be creatable as a
	// fresh value: adoption through a verifier is the only entry.
	verified, err := label.DecodeStoredIntegrity("verified:email_address")
	if err != nil {
		t.Fatalf("DecodeStoredIntegrity: %v", err)
	}
	if _, err := g.CreateValue(verified, label.NewConfSet(), nil, nil); !errors.Is(err, ErrVerifiedIntegrity) {
		t.Fatalf("expected ErrVerifiedIntegrity, got %v", err)
	}
	if g.Len() != 0 {
		t.Fatalf("rejected creation must not record a value, len=%d", g.Len())
	}
}
