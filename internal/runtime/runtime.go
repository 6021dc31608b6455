// Package runtime wires together the dependency-injected core: config,
// logger, session registry, STT backend, and the agent pipeline client.
// It owns construction of per-direction workers so the gateway and the
// session registry stay decoupled from the STT provider's transport
// details.
package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/relaywire/callbridge/internal/agentpipeline"
	"github.com/relaywire/callbridge/internal/audio/queue"
	"github.com/relaywire/callbridge/internal/audio/recorder"
	"github.com/relaywire/callbridge/internal/audio/segment"
	"github.com/relaywire/callbridge/internal/config"
	"github.com/relaywire/callbridge/internal/session"
	"github.com/relaywire/callbridge/internal/stt"
	"github.com/relaywire/callbridge/pkg/logging"
)

const (
	ingressQueueDepth = 256 // about 5s of audio at 50 frames/sec
)

// Runtime is the single composition root for the bridge process.
type Runtime struct {
	Config   *config.Settings
	Logger   *logging.Logger
	registry *session.Registry

	batchBackend  stt.BatchBackend
	streamBackend stt.StreamingBackend
	agentClient   agentpipeline.Submitter
}

// New constructs a Runtime from loaded settings.
func New(cfg *config.Settings, logger *logging.Logger) *Runtime {
	rt := &Runtime{
		Config:   cfg,
		Logger:   logger,
		registry: session.NewRegistry(logger),
	}

	switch cfg.STT.Backend {
	case "batch":
		rt.batchBackend = stt.NewHTTPBatchClient(
			cfg.STT.BatchURL,
			secondsToDuration(cfg.STT.BatchTimeoutSec),
			cfg.STT.HallucinationPhrases,
			logger,
		)
	case "streaming":
		rt.streamBackend = stt.NewWSStreamingBackend(
			cfg.STT.StreamURL,
			secondsToDuration(cfg.STT.StreamConnectTimeoutSec),
			secondsToDuration(cfg.STT.StreamKeepaliveSec),
			cfg.STT.EmitInterim,
			cfg.STT.HallucinationPhrases,
			logger,
		)
	}

	rt.agentClient = agentpipeline.New(cfg.AgentPipeline.SubmitURL, 5*time.Second, logger)

	return rt
}

// Registry implements gateway.DirectionBinder.
func (rt *Runtime) Registry() *session.Registry { return rt.registry }

// BindDirection implements gateway.DirectionBinder: it builds the audio
// pipeline (ingress queue, VAD buffer, optional recorder) for a newly
// bound (session, role), registers it, and returns a Worker ready to run.
func (rt *Runtime) BindDirection(ctx context.Context, sessionID string, role session.Role, start time.Time) (*session.DirectionState, *session.Worker, error) {
	vadCfg := segment.Config{
		SpeechStartRMS:     float64(rt.Config.VAD.SpeechStartRMS),
		SilenceRMS:         float64(rt.Config.VAD.SilenceRMS),
		SilenceHang:        secondsToDuration(rt.Config.VAD.SilenceHangSec),
		MinSpeechDuration:  secondsToDuration(rt.Config.VAD.MinSpeechSec),
		MaxSegmentDuration: secondsToDuration(rt.Config.VAD.MaxSegmentSec),
		SegmentRejectRMS:   float64(rt.Config.VAD.SegmentRejectRMS),
		StartupGuard:       secondsToDuration(rt.Config.VAD.StartupGuardSec),
	}

	d := &session.DirectionState{
		Ingress: queue.New(ingressQueueDepth),
		VAD:     segment.New(vadCfg, start),
	}

	if rt.Config.Recording.Enabled {
		pair, err := recorder.Open(rt.Config.Recording.Dir, string(role), sessionID, start)
		if err != nil {
			return nil, nil, fmt.Errorf("runtime: open recorder: %w", err)
		}
		d.Rec = pair
	}

	if _, err := rt.registry.Open(sessionID, role, start, d); err != nil {
		if d.Rec != nil {
			d.Rec.Close()
		}
		return nil, nil, err
	}

	workerCfg := session.WorkerConfig{
		Language:    rt.Config.STT.Language,
		Backend:     rt.batchBackend,
		Stream:      rt.streamBackend,
		AgentClient: rt.agentClient,
		CloseGrace:  secondsToDuration(rt.Config.Session.CloseGraceSec),
		SpeakerRole: role,
	}
	worker := session.NewWorker(rt.registry, rt.Logger, sessionID, d, workerCfg)

	return d, worker, nil
}

// CloseIdleSessions force-closes sessions with no media activity for the
// configured window and returns their ids; call it periodically from main.
func (rt *Runtime) CloseIdleSessions(now time.Time) []string {
	ids := rt.registry.IdleSessions(now, secondsToDuration(rt.Config.Session.IdleTimeoutSec))
	for _, id := range ids {
		rt.registry.ForceClose(id, session.ReasonIdleTimeout)
	}
	return ids
}

func secondsToDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}
