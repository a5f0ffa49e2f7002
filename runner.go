package rtspcamtest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math/rand"
	"time"

	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/robot"
	"go.viam.com/rdk/services/discovery"
)

const saveTimeLayout = "2006-01-02_15-04-05"

// DefaultWarmup is how long the video-store exercise lets media buffer
// before asking for a save.
const DefaultWarmup = 30 * time.Second

// ConfirmPort is the human-input gate between scenario steps. A run
// suspends at each Confirm until a line arrives; automated harnesses can
// substitute an oracle that answers immediately.
type ConfirmPort interface {
	Confirm(ctx context.Context, prompt string) error
}

// StdioConfirm prompts on out and blocks reading a line from in.
type StdioConfirm struct {
	in  *bufio.Reader
	out io.Writer
}

func NewStdioConfirm(in io.Reader, out io.Writer) *StdioConfirm {
	return &StdioConfirm{in: bufio.NewReader(in), out: out}
}

func (c *StdioConfirm) Confirm(ctx context.Context, prompt string) error {
	fmt.Fprintln(c.out, prompt)
	done := make(chan error, 1)
	go func() {
		_, err := c.in.ReadString('\n')
		done <- err
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil && err != io.EOF {
			return fmt.Errorf("reading confirmation: %w", err)
		}
		return nil
	}
}

// Exercise is the optional post-activation step of a scenario: locate a
// named resource on the machine, run something against it, and ask the
// human to judge the result.
type Exercise struct {
	ResourceName string
	Locate       func() (resource.Resource, error)
	Run          func(ctx context.Context, r *Runner, h *Handle) error
	Prompt       string
}

// Scenario is one step of the run: a configuration document, a confirmation
// prompt for the reconfigured machine, and optionally an exercise.
type Scenario struct {
	Name     string
	Build    func() (*Document, error)
	Prompt   string
	Exercise *Exercise
}

// configPusher is the slice of the cloud client the runner needs.
type configPusher interface {
	PushConfig(ctx context.Context, partID, partName string, doc *Document) error
}

// Runner drives scenarios strictly one after another. There is no
// branching and no rollback: any error other than the wait loop's
// not-found terminates the whole run.
type Runner struct {
	cloud    configPusher
	session  *Session
	confirm  ConfirmPort
	logger   logging.Logger
	partID   string
	partName string

	// Warmup is the buffering sleep before a video save exercise.
	Warmup time.Duration

	rnd     *rand.Rand
	handles []*Handle
}

func NewRunner(cloud configPusher, session *Session, confirm ConfirmPort, logger logging.Logger, partID, partName string) *Runner {
	return &Runner{
		cloud:    cloud,
		session:  session,
		confirm:  confirm,
		logger:   logger,
		partID:   partID,
		partName: partName,
		Warmup:   DefaultWarmup,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

type scenarioStep int

const (
	stepPush scenarioStep = iota
	stepConfirmPush
	stepRefresh
	stepLocate
	stepExercise
	stepConfirmResult
	stepDone
)

// Run executes the scenarios in order, releasing all held resource handles
// at the end regardless of outcome.
func (r *Runner) Run(ctx context.Context, scenarios []Scenario) error {
	defer func() {
		if err := r.releaseHandles(ctx); err != nil {
			r.logger.Warnf("releasing handles at end of run: %v", err)
		}
	}()
	for _, sc := range scenarios {
		r.logger.Infof("starting scenario: %s", sc.Name)
		if err := r.runScenario(ctx, sc); err != nil {
			return fmt.Errorf("scenario %q: %w", sc.Name, err)
		}
	}
	return nil
}

func (r *Runner) runScenario(ctx context.Context, sc Scenario) error {
	var h *Handle
	for step := stepPush; step != stepDone; {
		switch step {
		case stepPush:
			// A handle from an earlier scenario must not outlive the
			// reconfiguration of its backing resource.
			if err := r.releaseHandles(ctx); err != nil {
				return err
			}
			doc, err := sc.Build()
			if err != nil {
				return err
			}
			if err := r.cloud.PushConfig(ctx, r.partID, r.partName, doc); err != nil {
				return err
			}
			step = stepConfirmPush
		case stepConfirmPush:
			if err := r.confirm.Confirm(ctx, sc.Prompt); err != nil {
				return err
			}
			if sc.Exercise == nil {
				step = stepDone
			} else {
				step = stepRefresh
			}
		case stepRefresh:
			r.session.SafeRefresh(ctx)
			step = stepLocate
		case stepLocate:
			var err error
			h, err = r.session.WaitForResource(ctx, sc.Exercise.ResourceName, sc.Exercise.Locate)
			if err != nil {
				return err
			}
			r.handles = append(r.handles, h)
			step = stepExercise
		case stepExercise:
			if sc.Exercise.Run != nil {
				if err := sc.Exercise.Run(ctx, r, h); err != nil {
					return fmt.Errorf("exercising %s: %w", sc.Exercise.ResourceName, err)
				}
			}
			step = stepConfirmResult
		case stepConfirmResult:
			if err := r.confirm.Confirm(ctx, sc.Exercise.Prompt); err != nil {
				return err
			}
			step = stepDone
		}
	}
	return nil
}

func (r *Runner) releaseHandles(ctx context.Context) error {
	for _, h := range r.handles {
		if err := h.Release(ctx); err != nil {
			return fmt.Errorf("releasing %s: %w", h.Name(), err)
		}
	}
	r.handles = nil
	return nil
}

// sleep suspends until d elapses or ctx is canceled.
func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// saveWindowSeconds picks a random save-window width between 2 and
// min(15, warmup-1) seconds, both inclusive.
func saveWindowSeconds(warmup time.Duration, rnd *rand.Rand) int {
	max := int(warmup/time.Second) - 1
	if max > 15 {
		max = 15
	}
	if max <= 2 {
		return 2
	}
	return 2 + rnd.Intn(max-1)
}

// SaveCommand builds the video-store save command for a window of the given
// width ending at now.
func SaveCommand(now time.Time, windowSeconds int) map[string]interface{} {
	from := now.Add(-time.Duration(windowSeconds) * time.Second)
	return map[string]interface{}{
		"command":  "save",
		"from":     from.Format(saveTimeLayout),
		"to":       now.Format(saveTimeLayout),
		"metadata": "metadata",
		"async":    true,
	}
}

// DiscoveryExercise locates the ONVIF discovery service and runs a resource
// discovery, logging every camera config it finds.
func DiscoveryExercise(machine robot.Robot) *Exercise {
	return &Exercise{
		ResourceName: DiscoveryName,
		Locate: func() (resource.Resource, error) {
			return discovery.FromRobot(machine, DiscoveryName)
		},
		Run: func(ctx context.Context, r *Runner, h *Handle) error {
			res, err := h.Resource()
			if err != nil {
				return err
			}
			dis, ok := res.(discovery.Service)
			if !ok {
				return fmt.Errorf("%s is not a discovery service", h.Name())
			}
			r.logger.Info("connected to discovery service, running discover resources")
			cfgs, err := dis.DiscoverResources(ctx, nil)
			if err != nil {
				return err
			}
			for _, cfg := range cfgs {
				r.logger.Infof("discovered %s model=%s api=%s attributes=%v", cfg.Name, cfg.Model, cfg.API, cfg.Attributes)
			}
			return nil
		},
		Prompt: "Verify the above discovery results.",
	}
}

// VideoSaveExercise locates the video store, lets media buffer, then asks it
// to save a short window ending now.
func VideoSaveExercise(machine robot.Robot, preset string) *Exercise {
	return &Exercise{
		ResourceName: VideoStoreName,
		Locate: func() (resource.Resource, error) {
			return camera.FromRobot(machine, VideoStoreName)
		},
		Run: func(ctx context.Context, r *Runner, h *Handle) error {
			r.logger.Infof("connected to video-store, sleeping for %v to get some video playback before saving", r.Warmup)
			if err := sleep(ctx, r.Warmup); err != nil {
				return err
			}
			cmd := SaveCommand(time.Now(), saveWindowSeconds(r.Warmup, r.rnd))
			r.logger.Infof("sending save command: %v", cmd)
			_, err := h.DoCommand(ctx, cmd)
			return err
		},
		Prompt: fmt.Sprintf("Verify playback of the saved video with %s preset on App now.", preset),
	}
}

// DefaultScenarios is the fixed order the harness runs: both passthrough
// settings on h264, h265, ONVIF discovery, then the video store under two
// encoding presets.
func DefaultScenarios(b *Builder, machine robot.Robot) []Scenario {
	return []Scenario{
		{
			Name:   "h264 stream with rtp_passthrough",
			Build:  func() (*Document, error) { return b.CodecConfig(true, StreamH264) },
			Prompt: "Please confirm that the stream works with rtp_passthrough before continuing.",
		},
		{
			Name:   "h264 stream without rtp_passthrough",
			Build:  func() (*Document, error) { return b.CodecConfig(false, StreamH264) },
			Prompt: "Please confirm that the stream works without rtp_passthrough before continuing.",
		},
		{
			Name:   "h265 stream",
			Build:  func() (*Document, error) { return b.CodecConfig(true, StreamH265) },
			Prompt: "Please confirm that the h265 stream works.",
		},
		{
			Name:     "onvif discovery",
			Build:    b.DiscoveryConfig,
			Prompt:   "ONVIF config updated. Enter/return to continue.",
			Exercise: DiscoveryExercise(machine),
		},
		{
			Name:     "video-store with medium preset",
			Build:    func() (*Document, error) { return b.StorageConfig("medium") },
			Prompt:   "Video-store config updated with medium preset. Enter/Return to continue.",
			Exercise: VideoSaveExercise(machine, "medium"),
		},
		{
			Name:     "video-store with ultrafast preset",
			Build:    func() (*Document, error) { return b.StorageConfig("ultrafast") },
			Prompt:   "Video-store config updated with ultrafast preset. Enter/Return to continue.",
			Exercise: VideoSaveExercise(machine, "ultrafast"),
		},
	}
}
