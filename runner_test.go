package rtspcamtest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"testing"
	"time"

	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/testutils/inject"
)

type fakePusher struct {
	events *[]string
	err    error
	docs   []*Document
}

func (p *fakePusher) PushConfig(ctx context.Context, partID, partName string, doc *Document) error {
	*p.events = append(*p.events, "push")
	p.docs = append(p.docs, doc)
	return p.err
}

type fakeConfirm struct {
	events  *[]string
	prompts []string
	err     error
}

func (c *fakeConfirm) Confirm(ctx context.Context, prompt string) error {
	*c.events = append(*c.events, "confirm")
	c.prompts = append(c.prompts, prompt)
	return c.err
}

type runnerFixture struct {
	runner  *Runner
	pusher  *fakePusher
	confirm *fakeConfirm
	machine *fakeMachine
	events  []string
}

func newRunnerFixture(t *testing.T) *runnerFixture {
	f := &runnerFixture{machine: &fakeMachine{}}
	f.pusher = &fakePusher{events: &f.events}
	f.confirm = &fakeConfirm{events: &f.events}
	session := NewSession(f.machine, logging.NewTestLogger(t))
	session.PollInterval = time.Millisecond
	f.runner = NewRunner(f.pusher, session, f.confirm, logging.NewTestLogger(t), "part-1", "gost-test-rig")
	return f
}

func emptyDoc() (*Document, error) {
	return &Document{}, nil
}

func TestRunnerScenarioWithoutExercise(t *testing.T) {
	f := newRunnerFixture(t)
	sc := Scenario{Name: "codec", Build: emptyDoc, Prompt: "confirm the stream"}

	if err := f.runner.Run(context.Background(), []Scenario{sc}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []string{"push", "confirm"}
	if fmt.Sprint(f.events) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", f.events, want)
	}
	if f.confirm.prompts[0] != "confirm the stream" {
		t.Errorf("prompt = %q", f.confirm.prompts[0])
	}
}

func TestRunnerScenarioWithExercise(t *testing.T) {
	f := newRunnerFixture(t)
	res := newFakeResource(VideoStoreName)

	sc := Scenario{
		Name:   "storage",
		Build:  emptyDoc,
		Prompt: "config updated",
		Exercise: &Exercise{
			ResourceName: VideoStoreName,
			Locate: func() (resource.Resource, error) {
				f.events = append(f.events, "locate")
				return res, nil
			},
			Run: func(ctx context.Context, r *Runner, h *Handle) error {
				f.events = append(f.events, "exercise")
				_, err := h.DoCommand(ctx, map[string]interface{}{"command": "save"})
				return err
			},
			Prompt: "verify playback",
		},
	}

	if err := f.runner.Run(context.Background(), []Scenario{sc}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []string{"push", "confirm", "locate", "exercise", "confirm"}
	if fmt.Sprint(f.events) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", f.events, want)
	}
	if res.lastCmd["command"] != "save" {
		t.Errorf("resource never saw the save command: %v", res.lastCmd)
	}
	if f.confirm.prompts[1] != "verify playback" {
		t.Errorf("result prompt = %q", f.confirm.prompts[1])
	}
	// Run releases everything on the way out.
	if !res.closed {
		t.Error("handle was not released at end of run")
	}
}

func TestRunnerReleasesHandleBeforeReconfigure(t *testing.T) {
	f := newRunnerFixture(t)
	res := newFakeResource(VideoStoreName)

	first := Scenario{
		Name:   "storage medium",
		Build:  emptyDoc,
		Prompt: "config updated",
		Exercise: &Exercise{
			ResourceName: VideoStoreName,
			Locate:       func() (resource.Resource, error) { return res, nil },
			Prompt:       "verify playback",
		},
	}
	second := Scenario{
		Name:   "storage ultrafast",
		Build:  emptyDoc,
		Prompt: "config updated again",
	}

	closedBeforeSecondPush := false
	pushes := 0
	f.runner.cloud = pushFunc(func(ctx context.Context, partID, partName string, doc *Document) error {
		pushes++
		if pushes == 2 {
			closedBeforeSecondPush = res.closed
		}
		return nil
	})

	if err := f.runner.Run(context.Background(), []Scenario{first, second}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !closedBeforeSecondPush {
		t.Error("previous handle still open when the next config was pushed")
	}
}

type pushFunc func(ctx context.Context, partID, partName string, doc *Document) error

func (fn pushFunc) PushConfig(ctx context.Context, partID, partName string, doc *Document) error {
	return fn(ctx, partID, partName, doc)
}

type fakeDiscoveryService struct {
	resource.AlwaysRebuild

	name          resource.Name
	configs       []resource.Config
	discoverCalls int
	closed        bool
}

func (f *fakeDiscoveryService) Name() resource.Name {
	return f.name
}

func (f *fakeDiscoveryService) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	return nil, nil
}

func (f *fakeDiscoveryService) DiscoverResources(ctx context.Context, extra map[string]any) ([]resource.Config, error) {
	f.discoverCalls++
	return f.configs, nil
}

func (f *fakeDiscoveryService) Close(ctx context.Context) error {
	f.closed = true
	return nil
}

func TestDiscoveryExerciseThroughRunner(t *testing.T) {
	f := newRunnerFixture(t)
	dis := &fakeDiscoveryService{
		name:    resource.NewName(resource.APINamespaceRDK.WithServiceType("discovery"), DiscoveryName),
		configs: []resource.Config{{Name: CameraName}},
	}
	machine := &inject.Robot{
		ResourceByNameFunc: func(name resource.Name) (resource.Resource, error) {
			return dis, nil
		},
	}

	sc := Scenario{
		Name:     "onvif discovery",
		Build:    emptyDoc,
		Prompt:   "ONVIF config updated. Enter/return to continue.",
		Exercise: DiscoveryExercise(machine),
	}
	if err := f.runner.Run(context.Background(), []Scenario{sc}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if dis.discoverCalls != 1 {
		t.Errorf("discoverCalls = %d, want 1", dis.discoverCalls)
	}
	if f.confirm.prompts[1] != "Verify the above discovery results." {
		t.Errorf("result prompt = %q", f.confirm.prompts[1])
	}
	if !dis.closed {
		t.Error("discovery handle was not released at end of run")
	}
}

func TestVideoSaveExerciseThroughRunner(t *testing.T) {
	f := newRunnerFixture(t)
	f.runner.Warmup = 10 * time.Millisecond

	var saved map[string]interface{}
	closed := false
	cam := inject.NewCamera(VideoStoreName)
	cam.DoFunc = func(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
		saved = cmd
		return map[string]interface{}{"status": "ok"}, nil
	}
	cam.CloseFunc = func(ctx context.Context) error {
		closed = true
		return nil
	}
	machine := &inject.Robot{
		ResourceByNameFunc: func(name resource.Name) (resource.Resource, error) {
			return cam, nil
		},
	}

	sc := Scenario{
		Name:     "video-store with medium preset",
		Build:    emptyDoc,
		Prompt:   "Video-store config updated with medium preset. Enter/Return to continue.",
		Exercise: VideoSaveExercise(machine, "medium"),
	}
	if err := f.runner.Run(context.Background(), []Scenario{sc}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if saved == nil {
		t.Fatal("video store never saw the save command")
	}
	if saved["command"] != "save" || saved["async"] != true {
		t.Errorf("save command = %v", saved)
	}
	from, err := time.Parse(saveTimeLayout, saved["from"].(string))
	if err != nil {
		t.Fatalf("parsing from: %v", err)
	}
	to, err := time.Parse(saveTimeLayout, saved["to"].(string))
	if err != nil {
		t.Fatalf("parsing to: %v", err)
	}
	if width := to.Sub(from); width < 2*time.Second || width > 15*time.Second {
		t.Errorf("window width = %v, want 2s..15s", width)
	}
	if f.confirm.prompts[1] != "Verify playback of the saved video with medium preset on App now." {
		t.Errorf("result prompt = %q", f.confirm.prompts[1])
	}
	if !closed {
		t.Error("video-store handle was not released at end of run")
	}
}

func TestRunnerStopsOnPushError(t *testing.T) {
	f := newRunnerFixture(t)
	denied := errors.New("permission denied")
	f.pusher.err = denied

	err := f.runner.Run(context.Background(), []Scenario{
		{Name: "codec", Build: emptyDoc, Prompt: "confirm"},
		{Name: "never runs", Build: emptyDoc, Prompt: "confirm"},
	})
	if !errors.Is(err, denied) {
		t.Fatalf("expected the push error, got %v", err)
	}
	// One push, no confirms, and the second scenario never started.
	want := []string{"push"}
	if fmt.Sprint(f.events) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", f.events, want)
	}
}

func TestRunnerStopsOnBuildError(t *testing.T) {
	f := newRunnerFixture(t)
	bad := errors.New("unknown stream variant")

	err := f.runner.Run(context.Background(), []Scenario{
		{Name: "bad codec", Build: func() (*Document, error) { return nil, bad }, Prompt: "confirm"},
	})
	if !errors.Is(err, bad) {
		t.Fatalf("expected the build error, got %v", err)
	}
	if len(f.events) != 0 {
		t.Errorf("events = %v, want none", f.events)
	}
}

func TestSaveWindowSeconds(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))

	t.Run("stays within 2..15 for the default warmup", func(t *testing.T) {
		for i := 0; i < 1000; i++ {
			w := saveWindowSeconds(DefaultWarmup, rnd)
			if w < 2 || w > 15 {
				t.Fatalf("window = %d, want 2..15", w)
			}
		}
	})

	t.Run("caps at warmup minus one for short warmups", func(t *testing.T) {
		for i := 0; i < 1000; i++ {
			w := saveWindowSeconds(5*time.Second, rnd)
			if w < 2 || w > 4 {
				t.Fatalf("window = %d, want 2..4", w)
			}
		}
	})

	t.Run("degenerate warmup still yields a valid window", func(t *testing.T) {
		if w := saveWindowSeconds(2*time.Second, rnd); w != 2 {
			t.Errorf("window = %d, want 2", w)
		}
	})
}

func TestSaveCommand(t *testing.T) {
	now := time.Date(2026, 8, 30, 15, 4, 5, 0, time.UTC)
	cmd := SaveCommand(now, 7)

	if cmd["command"] != "save" {
		t.Errorf("command = %v", cmd["command"])
	}
	if cmd["async"] != true {
		t.Errorf("async = %v, want true", cmd["async"])
	}
	if cmd["metadata"] != "metadata" {
		t.Errorf("metadata = %v", cmd["metadata"])
	}

	from, err := time.Parse(saveTimeLayout, cmd["from"].(string))
	if err != nil {
		t.Fatalf("parsing from: %v", err)
	}
	to, err := time.Parse(saveTimeLayout, cmd["to"].(string))
	if err != nil {
		t.Fatalf("parsing to: %v", err)
	}
	if got := to.Sub(from); got != 7*time.Second {
		t.Errorf("window width = %v, want 7s", got)
	}
	if cmd["to"] != "2026-08-30_15-04-05" {
		t.Errorf("to = %v", cmd["to"])
	}
}

func TestStdioConfirm(t *testing.T) {
	t.Run("prints the prompt and waits for a line", func(t *testing.T) {
		var out bytes.Buffer
		c := NewStdioConfirm(strings.NewReader("\n"), &out)
		if err := c.Confirm(context.Background(), "press enter"); err != nil {
			t.Fatalf("Confirm failed: %v", err)
		}
		if !strings.Contains(out.String(), "press enter") {
			t.Errorf("prompt not written: %q", out.String())
		}
	})

	t.Run("eof counts as confirmation", func(t *testing.T) {
		var out bytes.Buffer
		c := NewStdioConfirm(strings.NewReader(""), &out)
		if err := c.Confirm(context.Background(), "press enter"); err != nil {
			t.Errorf("Confirm on EOF failed: %v", err)
		}
	})

	t.Run("canceled context unblocks the wait", func(t *testing.T) {
		var out bytes.Buffer
		blocked, _ := io.Pipe()
		c := NewStdioConfirm(blocked, &out)

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
		if err := c.Confirm(ctx, "press enter"); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestDefaultScenarios(t *testing.T) {
	b := NewBuilder(testResolver())
	scenarios := DefaultScenarios(b, nil)

	if len(scenarios) != 6 {
		t.Fatalf("expected 6 scenarios, got %d", len(scenarios))
	}
	// Codec steps carry no exercise; discovery and storage steps do.
	for i, wantExercise := range []bool{false, false, false, true, true, true} {
		if got := scenarios[i].Exercise != nil; got != wantExercise {
			t.Errorf("scenario %d (%s): exercise = %v, want %v", i, scenarios[i].Name, got, wantExercise)
		}
	}
	for i, sc := range scenarios {
		doc, err := sc.Build()
		if err != nil {
			t.Errorf("scenario %d (%s): Build failed: %v", i, sc.Name, err)
			continue
		}
		if len(doc.Components) == 0 {
			t.Errorf("scenario %d (%s): empty components", i, sc.Name)
		}
	}
}
