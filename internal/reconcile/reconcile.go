// Package reconcile compares two directory trees and brings them in line
// through the transfer manager.
package reconcile

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"panesync/internal/bridge"
	"panesync/internal/entry"
	"panesync/internal/transfer"
	"panesync/pkg/logger"
)

// Mode determines which way files flow.
type Mode int

const (
	// ModeMirrorToTarget copies new and modified files from source to target.
	ModeMirrorToTarget Mode = iota
	// ModeMirrorToSource copies new and modified files from target to source.
	ModeMirrorToSource
	// ModeBidirectional copies both ways; the newest file wins.
	ModeBidirectional
)

// ParseMode maps a name to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "mirror-to-target", "":
		return ModeMirrorToTarget, nil
	case "mirror-to-source":
		return ModeMirrorToSource, nil
	case "bidirectional":
		return ModeBidirectional, nil
	}
	return 0, fmt.Errorf("unknown reconcile mode %q", s)
}

// CompareMethod determines how files are compared.
type CompareMethod int

const (
	CompareByModTime CompareMethod = iota
	CompareBySize
	CompareBySizeAndTime
	// CompareByHash reads both files; use on small trees only.
	CompareByHash
)

// timeTolerance absorbs coarse server timestamps.
const timeTolerance = 2 * time.Second

// ActionType is what happens to one relative path.
type ActionType string

const (
	ActionCopyToTarget ActionType = "copy-to-target"
	ActionCopyToSource ActionType = "copy-to-source"
	ActionDeleteTarget ActionType = "delete-target"
	ActionDeleteSource ActionType = "delete-source"
	ActionSkip         ActionType = "skip"
)

// Options configures a reconcile run.
type Options struct {
	Mode            Mode
	Compare         CompareMethod
	ExcludePatterns []string // doublestar patterns to exclude
	IncludePatterns []string // if set, only matching files are considered
	DeleteExtra     bool     // delete files missing on the copying side
	DryRun          bool     // count only
	IgnoreHidden    bool     // skip dot files and directories
}

// Endpoint is one side of the comparison.
type Endpoint struct {
	Side entry.Side
	Conn string
	Dir  string
}

// Request names the two trees.
type Request struct {
	Source Endpoint
	Target Endpoint
}

// Action is a planned step.
type Action struct {
	Type    ActionType
	RelPath string
	Size    int64
	Reason  string
}

// Result contains the results of a run.
type Result struct {
	CopiedToTarget   int
	CopiedToSource   int
	Deleted          int
	Skipped          int
	BytesTransferred int64
	Err              error
	Duration         time.Duration
}

// Enqueuer starts transfers and reports when a batch is over.
type Enqueuer interface {
	Enqueue(ctx context.Context, req transfer.Request) (transfer.Batch, error)
	OnBatchDone(batchID string, fn func(transfer.BatchResult)) error
}

// Syncer runs reconcile passes.
type Syncer struct {
	bridge  bridge.Bridge
	engine  Enqueuer
	log     *logger.Logger
	options Options
}

// NewSyncer creates a syncer.
func NewSyncer(b bridge.Bridge, engine Enqueuer, log *logger.Logger, options Options) *Syncer {
	if log == nil {
		log = logger.GetInstance()
	}
	return &Syncer{bridge: b, engine: engine, log: log.Named("reconcile"), options: options}
}

// ValidatePatterns reports the first malformed pattern.
func ValidatePatterns(patterns []string) error {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid pattern %q", p)
		}
	}
	return nil
}

// Analyze walks both trees and returns planned actions sorted by path.
func (s *Syncer) Analyze(ctx context.Context, req Request) ([]Action, error) {
	if err := multierr.Combine(
		ValidatePatterns(s.options.ExcludePatterns),
		ValidatePatterns(s.options.IncludePatterns),
	); err != nil {
		return nil, err
	}

	srcFiles, err := s.scan(ctx, req.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s directory: %w", req.Source.Side, err)
	}
	dstFiles, err := s.scan(ctx, req.Target)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s directory: %w", req.Target.Side, err)
	}

	var actions []Action
	switch s.options.Mode {
	case ModeMirrorToTarget:
		actions, err = s.analyzeMirror(ctx, req, srcFiles, dstFiles, ActionCopyToTarget, ActionDeleteTarget, false)
	case ModeMirrorToSource:
		actions, err = s.analyzeMirror(ctx, req, dstFiles, srcFiles, ActionCopyToSource, ActionDeleteSource, true)
	case ModeBidirectional:
		actions, err = s.analyzeBidirectional(ctx, req, srcFiles, dstFiles)
	default:
		return nil, fmt.Errorf("unknown reconcile mode %d", s.options.Mode)
	}
	if err != nil {
		return nil, err
	}
	sort.SliceStable(actions, func(i, j int) bool { return actions[i].RelPath < actions[j].RelPath })
	return actions, nil
}

// scan lists every regular file below ep.Dir keyed by relative path.
func (s *Syncer) scan(ctx context.Context, ep Endpoint) (map[string]entry.FileEntry, error) {
	files := make(map[string]entry.FileEntry)

	var walk func(rel string) error
	walk = func(rel string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		list, err := s.bridge.List(ctx, ep.Conn, path.Join(ep.Dir, rel), "")
		if err != nil {
			return err
		}
		for _, e := range entry.WithoutParent(list) {
			if s.options.IgnoreHidden && e.IsHidden() {
				continue
			}
			childRel := path.Join(rel, e.Name)
			if e.Type == entry.TypeDirectory {
				if err := walk(childRel); err != nil {
					return err
				}
				continue
			}
			if e.IsDir() || s.isExcluded(childRel) {
				continue
			}
			files[childRel] = e
		}
		return nil
	}

	if err := walk(""); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return files, nil
		}
		return nil, err
	}
	return files, nil
}

func (s *Syncer) isExcluded(rel string) bool {
	base := path.Base(rel)
	for _, pattern := range s.options.ExcludePatterns {
		if matchEither(pattern, rel, base) {
			return true
		}
	}
	if len(s.options.IncludePatterns) == 0 {
		return false
	}
	for _, pattern := range s.options.IncludePatterns {
		if matchEither(pattern, rel, base) {
			return false
		}
	}
	return true
}

func matchEither(pattern, rel, base string) bool {
	if ok, _ := doublestar.Match(pattern, rel); ok {
		return true
	}
	ok, _ := doublestar.Match(pattern, base)
	return ok
}

// differs reports whether the two copies need syncing.
func (s *Syncer) differs(ctx context.Context, req Request, rel string, src, dst entry.FileEntry) (bool, error) {
	switch s.options.Compare {
	case CompareBySize:
		return src.Size != dst.Size, nil
	case CompareBySizeAndTime:
		return src.Size != dst.Size || timeDiffers(src.LastModified, dst.LastModified), nil
	case CompareByHash:
		if src.Size != dst.Size {
			return true, nil
		}
		a, err := s.checksum(ctx, req.Source, rel)
		if err != nil {
			return false, err
		}
		b, err := s.checksum(ctx, req.Target, rel)
		if err != nil {
			return false, err
		}
		return a != b, nil
	default:
		return timeDiffers(src.LastModified, dst.LastModified), nil
	}
}

func timeDiffers(a, b time.Time) bool {
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return diff > timeTolerance
}

func newer(a, b time.Time) bool {
	return timeDiffers(a, b) && a.After(b)
}

func (s *Syncer) checksum(ctx context.Context, ep Endpoint, rel string) (string, error) {
	data, err := s.bridge.ReadBinary(ctx, ep.Conn, path.Join(ep.Dir, rel))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", md5.Sum(data)), nil
}

// analyzeMirror plans copies from "from" to "to". When swapped, from is the
// request's target tree.
func (s *Syncer) analyzeMirror(ctx context.Context, req Request, from, to map[string]entry.FileEntry, copyType, deleteType ActionType, swapped bool) ([]Action, error) {
	var actions []Action
	for rel, f := range from {
		existing, ok := to[rel]
		if !ok {
			actions = append(actions, Action{Type: copyType, RelPath: rel, Size: f.Size, Reason: "missing on destination"})
			continue
		}
		src, dst := f, existing
		if swapped {
			src, dst = existing, f
		}
		diff, err := s.differs(ctx, req, rel, src, dst)
		if err != nil {
			return nil, err
		}
		if diff && (s.options.Compare != CompareByModTime || newer(f.LastModified, existing.LastModified)) {
			actions = append(actions, Action{Type: copyType, RelPath: rel, Size: f.Size, Reason: "modified"})
		} else {
			actions = append(actions, Action{Type: ActionSkip, RelPath: rel, Reason: "up to date"})
		}
	}
	if s.options.DeleteExtra {
		for rel, f := range to {
			if _, ok := from[rel]; !ok {
				actions = append(actions, Action{Type: deleteType, RelPath: rel, Size: f.Size, Reason: "missing on origin"})
			}
		}
	}
	return actions, nil
}

func (s *Syncer) analyzeBidirectional(ctx context.Context, req Request, src, dst map[string]entry.FileEntry) ([]Action, error) {
	var actions []Action
	for rel, a := range src {
		b, ok := dst[rel]
		if !ok {
			actions = append(actions, Action{Type: ActionCopyToTarget, RelPath: rel, Size: a.Size, Reason: "missing on target"})
			continue
		}
		diff, err := s.differs(ctx, req, rel, a, b)
		if err != nil {
			return nil, err
		}
		switch {
		case !diff:
			actions = append(actions, Action{Type: ActionSkip, RelPath: rel, Reason: "up to date"})
		case a.LastModified.After(b.LastModified):
			actions = append(actions, Action{Type: ActionCopyToTarget, RelPath: rel, Size: a.Size, Reason: "source is newer"})
		default:
			actions = append(actions, Action{Type: ActionCopyToSource, RelPath: rel, Size: b.Size, Reason: "target is newer"})
		}
	}
	for rel, b := range dst {
		if _, ok := src[rel]; !ok {
			actions = append(actions, Action{Type: ActionCopyToSource, RelPath: rel, Size: b.Size, Reason: "missing on source"})
		}
	}
	return actions, nil
}

// Execute carries out actions and waits for the transfers to finish.
func (s *Syncer) Execute(ctx context.Context, req Request, actions []Action) (*Result, error) {
	start := time.Now()
	result := &Result{}

	if s.options.DryRun {
		for _, a := range actions {
			result.count(a)
		}
		result.Duration = time.Since(start)
		return result, nil
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		created = make(map[string]bool)
		copies  = make(map[ActionType][]transfer.Item)
	)
	for _, a := range actions {
		if err := ctx.Err(); err != nil {
			result.Err = multierr.Append(result.Err, err)
			break
		}

		switch a.Type {
		case ActionSkip:
			result.Skipped++
		case ActionDeleteTarget, ActionDeleteSource:
			ep := req.Target
			if a.Type == ActionDeleteSource {
				ep = req.Source
			}
			p := path.Join(ep.Dir, a.RelPath)
			if err := s.bridge.Delete(ctx, ep.Conn, p, false); err != nil {
				result.Err = multierr.Append(result.Err, fmt.Errorf("delete %s: %w", p, err))
				continue
			}
			result.Deleted++
		case ActionCopyToTarget, ActionCopyToSource:
			to := req.Target
			if a.Type == ActionCopyToSource {
				to = req.Source
			}
			relDir := path.Dir(a.RelPath)
			if key := to.Conn + ":" + path.Join(to.Dir, relDir); !created[key] {
				s.mkdirAll(ctx, to, relDir)
				created[key] = true
			}
			copies[a.Type] = append(copies[a.Type], transfer.Item{Name: a.RelPath, Size: a.Size})
		}
	}

	// One batch per direction; the plan already decided these copies
	// replace their destinations.
	for _, typ := range []ActionType{ActionCopyToTarget, ActionCopyToSource} {
		items := copies[typ]
		if len(items) == 0 || ctx.Err() != nil {
			continue
		}
		from, to := req.Source, req.Target
		if typ == ActionCopyToSource {
			from, to = req.Target, req.Source
		}
		batch, err := s.engine.Enqueue(ctx, transfer.Request{
			Items:      items,
			SourceSide: from.Side,
			TargetSide: to.Side,
			SourceConn: from.Conn,
			TargetConn: to.Conn,
			SourceDir:  from.Dir,
			TargetDir:  to.Dir,
			Overwrite:  true,
		})
		if err != nil {
			result.Err = multierr.Append(result.Err, fmt.Errorf("queue %s: %w", typ, err))
			continue
		}
		wg.Add(1)
		action := Action{Type: typ}
		err = s.engine.OnBatchDone(batch.ID, func(r transfer.BatchResult) {
			defer wg.Done()
			mu.Lock()
			defer mu.Unlock()
			result.record(action, r)
		})
		if err != nil {
			wg.Done()
			result.Err = multierr.Append(result.Err, err)
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		mu.Lock()
		result.Err = multierr.Append(result.Err, ctx.Err())
		mu.Unlock()
	}

	mu.Lock()
	defer mu.Unlock()
	result.Duration = time.Since(start)
	s.log.Info("reconcile finished",
		zap.Int("copied_to_target", result.CopiedToTarget),
		zap.Int("copied_to_source", result.CopiedToSource),
		zap.Int("deleted", result.Deleted),
		zap.Int("skipped", result.Skipped),
		zap.Int("errors", len(multierr.Errors(result.Err))),
		zap.Duration("duration", result.Duration))
	out := *result
	return &out, nil
}

// mkdirAll creates relDir below ep.Dir one level at a time.
func (s *Syncer) mkdirAll(ctx context.Context, ep Endpoint, relDir string) {
	if relDir == "." || relDir == "" {
		return
	}
	cur := ep.Dir
	for _, part := range strings.Split(relDir, "/") {
		cur = path.Join(cur, part)
		if err := s.bridge.Mkdir(ctx, ep.Conn, cur); err != nil {
			if st, statErr := s.bridge.Stat(ctx, ep.Conn, cur); statErr != nil || !st.IsDir() {
				s.log.Warn("failed to create directory", zap.String("path", cur), zap.Error(err))
				return
			}
		}
	}
}

func (r *Result) count(a Action) {
	switch a.Type {
	case ActionCopyToTarget:
		r.CopiedToTarget++
	case ActionCopyToSource:
		r.CopiedToSource++
	case ActionDeleteTarget, ActionDeleteSource:
		r.Deleted++
	case ActionSkip:
		r.Skipped++
	}
}

// record adds a finished copy to the totals.
func (r *Result) record(a Action, b transfer.BatchResult) {
	for _, t := range b.Tasks {
		switch t.Status {
		case transfer.StatusCompleted:
			r.count(a)
			r.BytesTransferred += t.TransferredBytes
		case transfer.StatusFailed:
			r.Err = multierr.Append(r.Err, t.Error)
		case transfer.StatusCancelled:
			r.Skipped++
		}
	}
}
