package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"kurz/internal/fsm"
	"kurz/internal/logging"
	"kurz/internal/manifest"
	"kurz/internal/progress"
	"kurz/internal/providers"
	"kurz/internal/render"
	"kurz/internal/runstore"
	"kurz/internal/scheduler"
	"kurz/internal/services"
)

// Progress milestones published as the run moves through its stages.
const (
	progressPlanned     = 0.2
	progressAssetsReady = 0.5
	progressRendering   = 0.7
	progressCompleted   = 1.0
)

// globalSceneID addresses the run-wide background music slot in fan-out
// results; it never matches a real scene.
const globalSceneID = "global"

// ExecuteRun drives a run from its current state to a terminal one.
// It is safe to call on a run that a previous process left mid-stage.
func (e *Engine) ExecuteRun(ctx context.Context, runID string) error {
	run, err := e.view(ctx, runID)
	if err != nil {
		return err
	}
	switch run.State {
	case fsm.StateInit:
		err := e.mutate(ctx, runID, func(run *runstore.Run, machine *fsm.Machine) error {
			if !machine.Transition(fsm.StatePlanning, nil, nil) {
				return services.Wrap(services.ErrValidation, "engine", "execute",
					fmt.Sprintf("run %s cannot start from %s", runID, machine.State()), nil)
			}
			e.publishState(ctx, runID, machine.State())
			return nil
		})
		if err != nil {
			return err
		}
		return e.resumeFrom(ctx, runID, fsm.StatePlanning)
	case fsm.StatePlanning, fsm.StateAssetGeneration, fsm.StateRendering:
		return e.resumeFrom(ctx, runID, run.State)
	case fsm.StateQA:
		return e.stepQA(ctx, runID)
	default:
		return services.Wrap(services.ErrValidation, "engine", "execute",
			fmt.Sprintf("run %s is %s and cannot be executed", runID, run.State), nil)
	}
}

// resumeFrom re-enters the workflow at a working stage. Earlier stages
// are assumed durable: resuming asset generation trusts the persisted
// manifest, resuming rendering trusts the merged refs.
func (e *Engine) resumeFrom(ctx context.Context, runID string, stage fsm.State) error {
	switch stage {
	case fsm.StatePlanning:
		if err := e.stepPlan(ctx, runID); err != nil {
			return err
		}
		return e.stepAssets(ctx, runID)
	case fsm.StateAssetGeneration:
		return e.stepAssets(ctx, runID)
	case fsm.StateRendering:
		return e.stepRender(ctx, runID)
	default:
		return services.Wrap(services.ErrValidation, "engine", "resume",
			fmt.Sprintf("run %s cannot resume at %s", runID, stage), nil)
	}
}

// stepPlan generates the scene manifest and advances to asset
// generation. Planning runs as a scheduled job so cancellation and
// ceilings apply to it like any other work.
func (e *Engine) stepPlan(ctx context.Context, runID string) error {
	run, err := e.view(ctx, runID)
	if err != nil {
		return err
	}

	spec := providers.PlanSpec{
		RunID:      runID,
		Prompt:     run.Spec.Prompt,
		Mode:       run.Spec.Mode,
		SceneCount: run.Spec.SceneCount,
		Style:      run.Spec.Style,
		Voice:      run.Spec.Voice,
		IncludeBGM: run.Spec.IncludeBGM,
	}

	var planned *manifest.Manifest
	result := e.sched.Execute(ctx, scheduler.Job{
		ID:    "plan",
		RunID: runID,
		Key:   manifest.SlotKey{SceneID: globalSceneID, SlotID: "plan"},
		Do: func(jobCtx context.Context) (manifest.AssetRef, error) {
			m, err := e.gens.Script.GeneratePlan(jobCtx, spec)
			if err != nil {
				return manifest.AssetRef{}, err
			}
			planned = m
			return manifest.AssetRef{}, nil
		},
	})
	if result.Failed() {
		reason := fmt.Sprintf("planning failed: %v", result.Err)
		if err := e.failRun(ctx, runID, reason); err != nil {
			return err
		}
		return result.Err
	}
	if err := planned.Validate(); err != nil {
		reason := fmt.Sprintf("planner produced an invalid manifest: %v", err)
		if failErr := e.failRun(ctx, runID, reason); failErr != nil {
			return failErr
		}
		return err
	}

	err = e.mutate(ctx, runID, func(run *runstore.Run, machine *fsm.Machine) error {
		if !machine.Transition(fsm.StateAssetGeneration, nil, map[string]string{
			"scenes": fmt.Sprintf("%d", len(planned.Scenes)),
		}) {
			return services.Wrap(services.ErrValidation, "engine", "plan",
				fmt.Sprintf("cannot advance run %s from %s", runID, machine.State()), nil)
		}
		run.Manifest = planned
		run.Progress = progressPlanned
		return nil
	})
	if err != nil {
		return err
	}

	e.publisher.Publish(ctx, progress.Event{
		RunID:    runID,
		State:    fsm.StateAssetGeneration,
		Progress: progress.Float(progressPlanned),
		Log:      fmt.Sprintf("plan ready with %d scenes", len(planned.Scenes)),
	})
	return nil
}

// stepAssets fans out one job per unresolved slot and blocks on the
// barrier. The continuation merges results, decides success, and runs
// the render stage on the scheduler's worker.
func (e *Engine) stepAssets(ctx context.Context, runID string) error {
	run, err := e.view(ctx, runID)
	if err != nil {
		return err
	}
	if run.Manifest == nil {
		reason := "asset generation requires a plan"
		if err := e.failRun(ctx, runID, reason); err != nil {
			return err
		}
		return services.Wrap(services.ErrValidation, "engine", "assets", reason, nil)
	}

	jobs, err := e.assetJobs(run)
	if err != nil {
		if failErr := e.failRun(ctx, runID, fmt.Sprintf("cannot schedule assets: %v", err)); failErr != nil {
			return failErr
		}
		return err
	}
	if len(jobs) == 0 {
		// Resumed run with every slot already resolved.
		return e.finishAssets(ctx, runID, nil)
	}

	e.logger.Info("asset fan-out",
		logging.String(logging.FieldRunID, runID),
		logging.Int("jobs", len(jobs)))

	done := make(chan error, 1)
	barrier, err := e.sched.FanOut(ctx, runID, jobs, func(barrierCtx context.Context, results []scheduler.Result) {
		done <- e.finishAssets(barrierCtx, runID, results)
	})
	if err != nil {
		return err
	}
	if err := barrier.Wait(ctx); err != nil {
		return err
	}
	return <-done
}

// finishAssets is the barrier continuation: it merges every result
// into the manifest, fails the run if a required slot stayed empty,
// and otherwise advances into rendering.
func (e *Engine) finishAssets(ctx context.Context, runID string, results []scheduler.Result) error {
	var missing []manifest.SlotKey
	err := e.mutate(ctx, runID, func(run *runstore.Run, machine *fsm.Machine) error {
		if machine.IsTerminal() {
			return services.Wrap(services.ErrCancelled, "engine", "assets",
				fmt.Sprintf("run %s terminated during asset generation", runID), nil)
		}
		m := run.Manifest
		if m == nil {
			return services.Wrap(services.ErrValidation, "engine", "assets", "manifest missing", nil)
		}
		for _, result := range results {
			if result.Failed() {
				e.logger.Warn("asset job failed",
					logging.String(logging.FieldRunID, runID),
					logging.String("slot", result.Key.String()),
					logging.Int("attempts", result.Attempts),
					logging.Error(result.Err))
				continue
			}
			if result.Key.SceneID == globalSceneID && result.Key.Kind == manifest.KindBGM {
				if _, err := m.MergeGlobalBGM(result.Ref, e.cfg.Render.BGMVolume); err != nil {
					return err
				}
				continue
			}
			if _, err := m.Merge(result.Key, result.Ref); err != nil {
				return err
			}
		}
		missing = m.Unresolved()
		if len(missing) > 0 {
			// Persist the refs we did get so a retry only redoes the holes.
			return nil
		}
		if !machine.Transition(fsm.StateRendering, nil, nil) {
			return services.Wrap(services.ErrValidation, "engine", "assets",
				fmt.Sprintf("cannot advance run %s from %s", runID, machine.State()), nil)
		}
		run.Progress = progressAssetsReady
		return nil
	})
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			if failErr := e.failRun(ctx, runID, fmt.Sprintf("asset merge failed: %v", err)); failErr != nil {
				return failErr
			}
		}
		return err
	}
	if len(missing) > 0 {
		reason := fmt.Sprintf("asset generation incomplete: %d slot(s) unresolved, first %s",
			len(missing), missing[0])
		if err := e.failRun(ctx, runID, reason); err != nil {
			return err
		}
		return services.Wrap(services.ErrProvider, "engine", "assets", reason, nil)
	}

	e.publisher.Publish(ctx, progress.Event{
		RunID:    runID,
		State:    fsm.StateRendering,
		Progress: progress.Float(progressAssetsReady),
		Log:      "all assets resolved",
	})
	return e.stepRender(ctx, runID)
}

// assetJobs builds one scheduler job per slot that still needs an
// asset. Already-resolved slots are skipped so resumed runs do not
// regenerate work.
func (e *Engine) assetJobs(run *runstore.Run) ([]scheduler.Job, error) {
	m := run.Manifest
	var jobs []scheduler.Job
	add := func(spec providers.JobSpec) error {
		fn, err := e.gens.ForKind(spec.Kind)
		if err != nil {
			return err
		}
		spec.OutputPath = e.assetOutputPath(run.RunID, spec.Key())
		jobs = append(jobs, scheduler.Job{
			ID:    spec.Key().String(),
			RunID: run.RunID,
			Key:   spec.Key(),
			Do: func(jobCtx context.Context) (manifest.AssetRef, error) {
				return fn(jobCtx, spec)
			},
		})
		return nil
	}

	for i := range m.Scenes {
		scene := &m.Scenes[i]
		for _, img := range scene.Images {
			if !img.Ref.Empty() {
				continue
			}
			if err := add(providers.JobSpec{
				RunID:   run.RunID,
				SceneID: scene.SceneID,
				Kind:    manifest.KindImage,
				SlotID:  img.SlotID,
				Prompt:  img.Prompt,
				Style:   run.Spec.Style,
			}); err != nil {
				return nil, err
			}
		}
		for _, line := range scene.Dialogue {
			if !line.Ref.Empty() {
				continue
			}
			if err := add(providers.JobSpec{
				RunID:   run.RunID,
				SceneID: scene.SceneID,
				Kind:    manifest.KindNarration,
				SlotID:  line.SlotID,
				Text:    line.Text,
				Voice:   run.Spec.Voice,
			}); err != nil {
				return nil, err
			}
		}
		if scene.Video != nil && scene.Video.Ref.Empty() {
			if err := add(providers.JobSpec{
				RunID:      run.RunID,
				SceneID:    scene.SceneID,
				Kind:       manifest.KindVideo,
				SlotID:     scene.Video.SlotID,
				Prompt:     scene.Video.Prompt,
				Style:      run.Spec.Style,
				DurationMS: scene.DurationMS,
			}); err != nil {
				return nil, err
			}
		}
		for _, fx := range scene.SFX {
			if !fx.Ref.Empty() {
				continue
			}
			if err := add(providers.JobSpec{
				RunID:      run.RunID,
				SceneID:    scene.SceneID,
				Kind:       manifest.KindSFX,
				SlotID:     fx.SlotID,
				Tags:       fx.Tags,
				DurationMS: fx.DurationMS,
			}); err != nil {
				return nil, err
			}
		}
		if scene.BGM != nil && scene.BGM.Ref.Empty() {
			if err := add(providers.JobSpec{
				RunID:      run.RunID,
				SceneID:    scene.SceneID,
				Kind:       manifest.KindBGM,
				Tags:       bgmTags(scene.BGM),
				DurationMS: scene.DurationMS,
			}); err != nil {
				return nil, err
			}
		}
	}

	wantGlobal := run.Spec.IncludeBGM || m.GlobalBGM != nil
	if wantGlobal && (m.GlobalBGM == nil || m.GlobalBGM.Ref.Empty()) {
		if err := add(providers.JobSpec{
			RunID:      run.RunID,
			SceneID:    globalSceneID,
			Kind:       manifest.KindBGM,
			SlotID:     "bgm",
			Tags:       bgmTags(m.GlobalBGM),
			DurationMS: m.TotalDurationMS,
		}); err != nil {
			return nil, err
		}
	}
	return jobs, nil
}

// assetOutputPath places a slot's generated bytes under the run's
// work directory. Providers that return managed URIs ignore it;
// providers that download or synthesize locally write there.
func (e *Engine) assetOutputPath(runID string, key manifest.SlotKey) string {
	name := fmt.Sprintf("%s-%s-%s%s", key.SceneID, key.Kind, key.SlotID, assetExtension(key.Kind))
	return filepath.Join(e.cfg.Paths.WorkDir, runID, "assets", name)
}

func assetExtension(kind manifest.SlotKind) string {
	switch kind {
	case manifest.KindImage:
		return ".png"
	case manifest.KindNarration:
		return ".wav"
	case manifest.KindBGM, manifest.KindSFX:
		return ".mp3"
	case manifest.KindVideo:
		return ".mp4"
	default:
		return ""
	}
}

func bgmTags(track *manifest.BGMTrack) []string {
	if track == nil {
		return nil
	}
	var tags []string
	if track.Genre != "" {
		tags = append(tags, track.Genre)
	}
	if track.Mood != "" {
		tags = append(tags, track.Mood)
	}
	return tags
}

// stepRender assembles the final video, then hands the run to QA.
func (e *Engine) stepRender(ctx context.Context, runID string) error {
	run, err := e.view(ctx, runID)
	if err != nil {
		return err
	}
	if run.Manifest == nil {
		reason := "rendering requires a manifest"
		if err := e.failRun(ctx, runID, reason); err != nil {
			return err
		}
		return services.Wrap(services.ErrValidation, "engine", "render", reason, nil)
	}

	workDir := filepath.Join(e.cfg.Paths.WorkDir, runID)
	outputPath := filepath.Join(e.cfg.Paths.OutputDir, runID+".mp4")

	e.publisher.Publish(ctx, progress.Event{
		RunID:    runID,
		State:    fsm.StateRendering,
		Progress: progress.Float(progressRendering),
		Log:      "rendering started",
	})

	var rendered render.Result
	m := run.Manifest
	result := e.sched.Execute(ctx, scheduler.Job{
		ID:    "render",
		RunID: runID,
		Key:   manifest.SlotKey{SceneID: globalSceneID, SlotID: "render"},
		Do: func(jobCtx context.Context) (manifest.AssetRef, error) {
			res, err := e.renderer.Render(jobCtx, m, workDir, outputPath)
			if err != nil {
				return manifest.AssetRef{}, err
			}
			rendered = res
			return manifest.AssetRef{URI: res.OutputPath, DurationMS: res.TotalDurationMS}, nil
		},
	})
	if result.Failed() {
		reason := fmt.Sprintf("rendering failed: %v", result.Err)
		if err := e.failRun(ctx, runID, reason); err != nil {
			return err
		}
		return result.Err
	}

	err = e.mutate(ctx, runID, func(run *runstore.Run, machine *fsm.Machine) error {
		if !machine.Transition(fsm.StateQA, nil, map[string]string{
			"duration_ms": fmt.Sprintf("%d", rendered.TotalDurationMS),
		}) {
			return services.Wrap(services.ErrValidation, "engine", "render",
				fmt.Sprintf("cannot advance run %s from %s", runID, machine.State()), nil)
		}
		run.OutputPath = rendered.OutputPath
		if run.Manifest != nil {
			run.Manifest.TotalDurationMS = rendered.TotalDurationMS
		}
		return nil
	})
	if err != nil {
		return err
	}
	return e.stepQA(ctx, runID)
}

// stepQA verifies the finished output and completes the run.
func (e *Engine) stepQA(ctx context.Context, runID string) error {
	run, err := e.view(ctx, runID)
	if err != nil {
		return err
	}
	if run.OutputPath == "" {
		reason := "qa requires a rendered output"
		if err := e.failRun(ctx, runID, reason); err != nil {
			return err
		}
		return services.Wrap(services.ErrValidation, "engine", "qa", reason, nil)
	}

	var expectedMS int64
	if run.Manifest != nil {
		expectedMS = run.Manifest.TotalDurationMS
	}
	if err := e.renderer.VerifyOutput(ctx, run.OutputPath, expectedMS); err != nil {
		reason := fmt.Sprintf("qa rejected output: %v", err)
		if failErr := e.failRun(ctx, runID, reason); failErr != nil {
			return failErr
		}
		return err
	}

	err = e.mutate(ctx, runID, func(run *runstore.Run, machine *fsm.Machine) error {
		if !machine.Transition(fsm.StateCompleted, nil, nil) {
			return services.Wrap(services.ErrValidation, "engine", "qa",
				fmt.Sprintf("cannot complete run %s from %s", runID, machine.State()), nil)
		}
		run.Progress = progressCompleted
		return nil
	})
	if err != nil {
		return err
	}

	e.publisher.Publish(ctx, progress.Event{
		RunID:     runID,
		State:     fsm.StateCompleted,
		Progress:  progress.Float(progressCompleted),
		Log:       "run completed",
		Artifacts: map[string]string{"output": run.OutputPath},
	})
	e.logger.Info("run completed",
		logging.String(logging.FieldRunID, runID),
		logging.String("output", run.OutputPath))
	return nil
}
