// Package runner owns the job queue: it accepts analysis jobs, guarantees
// at most one is executing, drives each job through its analysis and import
// phases, and advances to the next eligible job whenever the slot frees up.
package runner

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mvirta/mobwatch/internal/analyzer"
	"github.com/mvirta/mobwatch/internal/models"
)

const resultFileName = "detections.csv"

// ModelResolver resolves a job's model id to its catalog entry at
// execution time.
type ModelResolver interface {
	GetModel(id int64) (models.Model, error)
}

// ImportFunc runs the ingestion phase against an analyzer output file,
// writing its log output to the given sink.
type ImportFunc func(ctx context.Context, resultPath string, logs io.Writer) error

type Config struct {
	Launcher analyzer.Launcher
	Models   ModelResolver
	Import   ImportFunc
	// TempDir hosts the per-job work dirs, ResultsDir keeps the output
	// artifact of finished jobs after the work dir is removed.
	TempDir    string
	ResultsDir string
	Conf       float64
	IOU        float64
	ImageSize  int
}

// Runner serializes all queue state behind a single consumer goroutine.
// Commands (enqueue, reads, cancel) and internally generated completion
// events go through the same channel, so the single-flight invariant is
// structural: nothing outside the loop ever touches the state.
type Runner struct {
	cfg    Config
	logger zerolog.Logger

	cmds chan func()
	kick chan struct{}
	quit chan struct{}
	once sync.Once

	// Owned by the loop goroutine.
	jobs    []*models.Job
	next    int
	current *execution
}

type execution struct {
	jobID int
	proc  analyzer.Process
}

func New(cfg Config, logger zerolog.Logger) *Runner {
	r := &Runner{
		cfg:    cfg,
		logger: logger.With().Str("component", "runner").Logger(),
		cmds:   make(chan func(), 16),
		kick:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *Runner) loop() {
	for {
		select {
		case <-r.quit:
			return
		case cmd := <-r.cmds:
			cmd()
		case <-r.kick:
			r.advance()
		}
	}
}

// Close stops the command loop. In-flight subprocesses are not touched;
// callers wanting a clean stop should Cancel first.
func (r *Runner) Close() {
	r.once.Do(func() { close(r.quit) })
}

// do runs fn on the loop goroutine and waits for it.
func (r *Runner) do(fn func()) {
	done := make(chan struct{})
	select {
	case r.cmds <- func() { fn(); close(done) }:
		<-done
	case <-r.quit:
	}
}

// post queues fn without waiting. Used by supervision goroutines so a
// stopped runner never blocks them.
func (r *Runner) post(fn func()) {
	select {
	case r.cmds <- fn:
	case <-r.quit:
	}
}

func (r *Runner) wake() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Enqueue appends a new waiting job and triggers an advancement attempt.
// It returns the created record immediately and never blocks on execution.
func (r *Runner) Enqueue(videoURL string, modelID int64) models.Job {
	var snap models.Job
	r.do(func() {
		job := &models.Job{
			ID:       len(r.jobs),
			VideoURL: videoURL,
			ModelID:  modelID,
			Status:   models.JobWaiting,
		}
		r.jobs = append(r.jobs, job)
		snap = snapshot(job)
	})
	r.wake()
	return snap
}

func (r *Runner) Get(id int) (models.Job, bool) {
	var (
		snap models.Job
		ok   bool
	)
	r.do(func() {
		if id >= 0 && id < len(r.jobs) {
			snap = snapshot(r.jobs[id])
			ok = true
		}
	})
	return snap, ok
}

// List returns snapshots of every job in creation order.
func (r *Runner) List() []models.Job {
	var snaps []models.Job
	r.do(func() {
		snaps = make([]models.Job, len(r.jobs))
		for i, job := range r.jobs {
			snaps[i] = snapshot(job)
		}
	})
	return snaps
}

func (r *Runner) Logs(id int) ([]byte, bool) {
	var (
		logs []byte
		ok   bool
	)
	r.do(func() {
		if id >= 0 && id < len(r.jobs) {
			logs = bytes.Clone(r.jobs[id].Logs)
			ok = true
		}
	})
	return logs, ok
}

// Cancel signals the process backing the currently executing job, if any,
// and reports whether a signal was actually sent. Jobs that are not in the
// live slot cannot be cancelled this way.
func (r *Runner) Cancel() bool {
	var sent bool
	r.do(func() {
		if r.current != nil {
			// Racing a natural exit is fine: the handle is inert
			// once the process has ended.
			sent = r.current.proc.Terminate()
		}
	})
	return sent
}

// CancelJob is the administrative delete: a waiting job is marked
// cancelled and will be skipped without execution, the live job is
// signalled. Terminal and importing jobs are left alone.
func (r *Runner) CancelJob(id int) bool {
	var ok bool
	r.do(func() {
		if id < 0 || id >= len(r.jobs) {
			return
		}
		job := r.jobs[id]
		switch {
		case job.Status == models.JobWaiting:
			now := time.Now()
			job.Status = models.JobCancelled
			job.CompletedAt = &now
			job.Logs = append(job.Logs, "\nCancelled before execution\n"...)
			ok = true
		case r.current != nil && r.current.jobID == id:
			ok = r.current.proc.Terminate()
		}
	})
	return ok
}

// advance pops the next eligible job and starts it. Re-entrancy is handled
// by the slot guard: the call is a no-op while a job is executing, so it is
// safe to trigger from every completion event.
func (r *Runner) advance() {
	if r.current != nil {
		return
	}
	for r.next < len(r.jobs) {
		job := r.jobs[r.next]
		r.next++
		// A job that already left waiting (pre-emptively cancelled)
		// is skipped without side effects.
		if job.Status != models.JobWaiting {
			continue
		}
		r.start(job)
		return
	}
}

func (r *Runner) start(job *models.Job) {
	now := time.Now()
	job.Status = models.JobActive
	job.StartedAt = &now

	model, err := r.cfg.Models.GetModel(job.ModelID)
	if err != nil {
		r.fail(job, fmt.Sprintf("Cannot resolve model %d: %v", job.ModelID, err))
		r.wake()
		return
	}

	workDir, err := os.MkdirTemp(r.cfg.TempDir, "mobwatch-import-")
	if err != nil {
		r.fail(job, fmt.Sprintf("Cannot create work dir: %v", err))
		r.wake()
		return
	}

	outputPath := filepath.Join(workDir, resultFileName)
	proc, err := r.cfg.Launcher.Start(context.Background(), analyzer.Spec{
		VideoURL:   job.VideoURL,
		ModelPath:  model.Path,
		OutputPath: outputPath,
		Confidence: r.cfg.Conf,
		IOU:        r.cfg.IOU,
		ImageSize:  r.cfg.ImageSize,
	})
	if err != nil {
		// Spawn failure is fatal to the job, not to the queue.
		os.RemoveAll(workDir)
		r.fail(job, fmt.Sprintf("Analyzer spawn failed: %v", err))
		r.wake()
		return
	}

	r.logger.Info().Int("job", job.ID).Str("video", job.VideoURL).Msg("Analysis started")
	r.current = &execution{jobID: job.ID, proc: proc}
	go r.supervise(job.ID, proc, outputPath, workDir)
}

// supervise runs off-loop: it drains both process streams, waits for exit
// and posts the completion event back to the loop.
func (r *Runner) supervise(jobID int, proc analyzer.Process, outputPath, workDir string) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.captureStderr(jobID, proc.Stderr())
	}()
	go func() {
		defer wg.Done()
		r.scanProgress(jobID, proc.Stdout())
	}()
	wg.Wait()

	status := proc.Wait()
	r.post(func() { r.finishAnalysis(jobID, status, outputPath, workDir) })
}

func (r *Runner) captureStderr(jobID int, stderr io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := stderr.Read(buf)
		if n > 0 {
			chunk := bytes.Clone(buf[:n])
			r.post(func() { r.appendLog(jobID, chunk) })
		}
		if err != nil {
			return
		}
	}
}

func (r *Runner) scanProgress(jobID int, stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()
		progress, ok := parseProgress(line)
		if !ok {
			// Stray text on the primary stream goes to the log.
			r.post(func() { r.appendLog(jobID, []byte(line+"\n")) })
			continue
		}
		if progress == nil {
			continue
		}
		r.post(func() { r.updateProgress(jobID, progress) })
	}
}

func (r *Runner) appendLog(jobID int, chunk []byte) {
	if job := r.job(jobID); job != nil {
		job.Logs = append(job.Logs, chunk...)
	}
}

// updateProgress replaces the snapshot, last write wins. A frame counter
// that moves backwards is an anomaly worth logging, not a crash.
func (r *Runner) updateProgress(jobID int, p *models.Progress) {
	job := r.job(jobID)
	if job == nil {
		return
	}
	if job.Progress != nil && p.CurrentFrame < job.Progress.CurrentFrame {
		r.logger.Warn().
			Int("job", jobID).
			Int64("from", job.Progress.CurrentFrame).
			Int64("to", p.CurrentFrame).
			Msg("Progress frame counter went backwards")
	}
	job.Progress = p
}

func (r *Runner) finishAnalysis(jobID int, status analyzer.ExitStatus, outputPath, workDir string) {
	job := r.job(jobID)
	if job == nil {
		return
	}
	job.Logs = append(job.Logs, fmt.Sprintf("\nAnalysis exited with %s\n", status)...)

	if !status.Success() {
		r.fail(job, "")
		r.release(workDir)
		return
	}

	job.ResultPath = outputPath
	job.Status = models.JobImporting
	r.logger.Info().Int("job", jobID).Msg("Analysis succeeded, importing results")
	// The slot stays occupied through the import phase; the analyzer
	// process handle is inert from here on.
	go r.runImport(jobID, outputPath, workDir)
}

// runImport is Phase 2, executed off-loop with the job log as its sink.
func (r *Runner) runImport(jobID int, outputPath, workDir string) {
	sink := &jobLogWriter{r: r, jobID: jobID}
	err := r.cfg.Import(context.Background(), outputPath, sink)
	r.post(func() { r.finishImport(jobID, err, workDir) })
}

func (r *Runner) finishImport(jobID int, err error, workDir string) {
	job := r.job(jobID)
	if job == nil {
		return
	}
	if err != nil {
		job.Logs = append(job.Logs, fmt.Sprintf("\nImport failed: %v\n", err)...)
		r.fail(job, "")
	} else {
		job.Logs = append(job.Logs, "\nImport completed\n"...)
		now := time.Now()
		job.Status = models.JobFinished
		job.CompletedAt = &now
		job.ResultPath = r.preserveResult(jobID, job.ResultPath)
		r.logger.Info().Int("job", jobID).Msg("Job finished")
	}
	r.release(workDir)
}

// preserveResult moves the output artifact out of the work dir before it
// is removed, so the result stays retrievable after the job finishes.
func (r *Runner) preserveResult(jobID int, resultPath string) string {
	if r.cfg.ResultsDir == "" {
		return resultPath
	}
	kept := filepath.Join(r.cfg.ResultsDir, fmt.Sprintf("job-%d.csv", jobID))
	if err := os.Rename(resultPath, kept); err != nil {
		r.logger.Warn().Err(err).Int("job", jobID).Msg("Failed to preserve result file")
		return resultPath
	}
	return kept
}

// fail marks a job terminally failed with an optional log trailer. Failures
// never propagate past the runner; the queue must keep advancing.
func (r *Runner) fail(job *models.Job, trailer string) {
	if trailer != "" {
		job.Logs = append(job.Logs, ("\n" + trailer + "\n")...)
	}
	now := time.Now()
	job.Status = models.JobFailed
	job.CompletedAt = &now
	r.logger.Warn().Int("job", job.ID).Msg("Job failed")
}

// release frees the execution slot, removes the job's work dir and kicks
// the queue forward.
func (r *Runner) release(workDir string) {
	r.current = nil
	if workDir != "" {
		if err := os.RemoveAll(workDir); err != nil {
			r.logger.Warn().Err(err).Str("dir", workDir).Msg("Failed to remove work dir")
		}
	}
	r.wake()
}

func (r *Runner) job(id int) *models.Job {
	if id < 0 || id >= len(r.jobs) {
		return nil
	}
	return r.jobs[id]
}

func snapshot(job *models.Job) models.Job {
	snap := *job
	snap.Logs = bytes.Clone(job.Logs)
	if job.Progress != nil {
		p := *job.Progress
		snap.Progress = &p
	}
	return snap
}

// jobLogWriter adapts the job log to io.Writer for the import phase.
type jobLogWriter struct {
	r     *Runner
	jobID int
}

func (w *jobLogWriter) Write(p []byte) (int, error) {
	chunk := bytes.Clone(p)
	w.r.post(func() { w.r.appendLog(w.jobID, chunk) })
	return len(p), nil
}
