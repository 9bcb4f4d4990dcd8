package patches

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bryanwahyu/automaton-fix/internal/application"
	"github.com/bryanwahyu/automaton-fix/internal/domain/ai"
	"github.com/bryanwahyu/automaton-fix/internal/domain/findings"
	domain "github.com/bryanwahyu/automaton-fix/internal/domain/patches"
)

const DefaultMaxAttempts = 3

// Observer receives one call per closed attempt.
type Observer interface {
	ObserveAttempt(state domain.State, d time.Duration)
}

// Options tune one run.
type Options struct {
	MaxAttempts int
	// DiffContext is the number of context lines in stored diffs (0..3).
	DiffContext       int
	RejectRegressions bool
	// Include and Exclude are doublestar globs over project-relative paths.
	Include []string
	Exclude []string
	// FindingIDs restricts the run to these finding ids.
	FindingIDs []string
	RunID      string
	CommitSHA  string
}

// Service drives the propose, apply, build, revalidate loop for every
// finding location in the ledger. It is not safe for concurrent use: it owns
// the single checkout through Workspace.
type Service struct {
	Ledger    findings.Ledger
	Workspace domain.Workspace
	Oracle    ai.Client
	Build     domain.BuildOracle
	Scanner   findings.Scanner
	Differ    domain.Differ
	Artifacts domain.ArtifactStore
	Attempts  domain.AttemptRepository
	Observer  Observer
	Clock     application.Clock
	Options   Options

	baselines map[string]baseline
}

// baseline is the before-set for one file. scanned is false when the
// analyzer run failed and the ledger's own findings stand in for it.
type baseline struct {
	list    []findings.Finding
	scanned bool
}

// outcome is the result of one closed attempt.
type outcome struct {
	state        domain.State
	candidate    string
	failure      string
	kind         domain.Kind
	record       *findings.PatchRecord
	verification findings.Verification
}

// Run processes the ledger once. A non-nil error means the run was aborted;
// the summary still holds every location processed so far and the ledger
// has been saved.
func (s *Service) Run(ctx context.Context) (domain.RunSummary, error) {
	s.defaults()
	summary := domain.RunSummary{RunID: s.Options.RunID, CommitSHA: s.Options.CommitSHA, StartedAt: s.Clock.Now()}

	list, err := s.Ledger.Load(ctx)
	if err != nil {
		return summary, &domain.Error{Kind: domain.KindSetup, Op: "load ledger", Err: err}
	}
	s.baselines = map[string]baseline{}

	dirty := false
	var runErr error
	for fi := range list {
		f := &list[fi]
		if !s.selected(f) {
			continue
		}
		for li := range f.Items {
			if err := ctx.Err(); err != nil {
				runErr = err
				break
			}
			res, err := s.processLocation(ctx, list, f, &f.Items[li])
			summary.Results = append(summary.Results, res)
			if err != nil {
				runErr = err
				break
			}
			if res.State == domain.StateAccepted {
				dirty = true
				if err := s.Ledger.Save(ctx, list); err != nil {
					runErr = &domain.Error{Kind: domain.KindIO, Op: "save ledger", FindingID: f.ID, Err: err}
					dirty = false
					break
				}
			}
		}
		if runErr != nil {
			break
		}
	}

	if dirty {
		// a cancelled ctx must not stop the final save
		if err := s.Ledger.Save(context.WithoutCancel(ctx), list); err != nil && runErr == nil {
			runErr = &domain.Error{Kind: domain.KindIO, Op: "save ledger", Err: err}
		}
	}
	summary.FinishedAt = s.Clock.Now()
	return summary, runErr
}

func (s *Service) defaults() {
	if s.Clock == nil {
		s.Clock = application.SystemClock{}
	}
	if s.Options.MaxAttempts <= 0 {
		s.Options.MaxAttempts = DefaultMaxAttempts
	}
	if s.Options.DiffContext < 0 || s.Options.DiffContext > 3 {
		s.Options.DiffContext = 3
	}
}

func (s *Service) selected(f *findings.Finding) bool {
	if len(s.Options.FindingIDs) == 0 {
		return true
	}
	for _, id := range s.Options.FindingIDs {
		if f.ID == id {
			return true
		}
	}
	return false
}

// fileSelected applies the include/exclude globs.
func (s *Service) fileSelected(file string) (bool, error) {
	for _, pat := range s.Options.Exclude {
		ok, err := doublestar.Match(pat, file)
		if err != nil {
			return false, fmt.Errorf("exclude pattern %q: %w", pat, err)
		}
		if ok {
			return false, nil
		}
	}
	if len(s.Options.Include) == 0 {
		return true, nil
	}
	for _, pat := range s.Options.Include {
		ok, err := doublestar.Match(pat, file)
		if err != nil {
			return false, fmt.Errorf("include pattern %q: %w", pat, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) processLocation(ctx context.Context, ledger []findings.Finding, f *findings.Finding, loc *findings.Location) (domain.LocationResult, error) {
	file := findings.NormalizePath(loc.TextRange.File)
	res := domain.LocationResult{FindingID: f.ID, Name: f.Name, File: file}
	logger := log.With().Str("finding", f.ID).Str("name", f.Name).Str("file", file).Logger()

	if err := loc.Validate(); err != nil {
		res.State, res.Reason = domain.StateSkipped, err.Error()
		logger.Info().Str("state", string(res.State)).Msg(res.Reason)
		return res, nil
	}
	ok, err := s.fileSelected(file)
	if err != nil {
		return res, &domain.Error{Kind: domain.KindSetup, Op: "match globs", Err: err}
	}
	if !ok {
		res.State, res.Reason = domain.StateSkipped, "filtered out"
		logger.Debug().Str("state", string(res.State)).Msg(res.Reason)
		return res, nil
	}

	st := domain.AttemptState{Number: 1}
	for ; st.Number <= s.Options.MaxAttempts; st = st.Next(st.PriorCandidate, st.PriorFailure) {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Attempts = st.Number
		alog := logger.With().Int("attempt", st.Number).Logger()

		started := s.Clock.Now()
		out, err := s.attempt(ctx, ledger, f, loc, file, &st, alog)
		elapsed := s.Clock.Now().Sub(started)

		var skip *skipError
		if errors.As(err, &skip) {
			res.State, res.Reason = domain.StateSkipped, skip.Error()
			alog.Warn().Str("state", string(res.State)).Msg(res.Reason)
			return res, nil
		}
		if err != nil {
			res.State, res.Reason = domain.StateAbandoned, err.Error()
			alog.Error().Err(err).Msg("attempt aborted")
			return res, err
		}

		s.audit(ctx, f, file, st.Number, out, elapsed, alog)

		if out.state == domain.StateAccepted {
			loc.AppendPatch(*out.record)
			res.State, res.Patch = domain.StateAccepted, out.record
			alog.Info().
				Str("state", string(out.state)).
				Str("verification", string(out.verification)).
				Str("diff", out.record.Path).
				Msg("patch accepted")
			return res, nil
		}

		alog.Info().
			Str("state", string(out.state)).
			Str("kind", string(out.kind)).
			Str("reason", firstLine(out.failure)).
			Msg("attempt failed")
		st.PriorFailure = out.failure
		if out.candidate != "" {
			st.PriorCandidate = out.candidate
		}
	}

	res.State, res.Reason = domain.StateAbandoned, fmt.Sprintf("no accepted patch after %d attempts", s.Options.MaxAttempts)
	logger.Warn().Str("state", string(res.State)).Int("attempts", s.Options.MaxAttempts).Msg(res.Reason)
	return res, nil
}

type skipError struct{ reason string }

func (e *skipError) Error() string { return e.reason }

// attempt runs one attempt against a freshly opened edit. The edit is
// restored on every return path, panics included.
func (s *Service) attempt(ctx context.Context, ledger []findings.Finding, f *findings.Finding, loc *findings.Location, file string, st *domain.AttemptState, logger zerolog.Logger) (out outcome, err error) {
	edit, err := s.Workspace.Open(file)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrOutsideRoot):
			return out, &skipError{reason: "file resolves outside the project root"}
		case errors.Is(err, fs.ErrNotExist):
			return out, &skipError{reason: "file does not exist"}
		}
		return out, &domain.Error{Kind: domain.KindIO, Op: "open", FindingID: f.ID, File: file, Attempt: st.Number, Err: err}
	}
	defer func() {
		if rerr := edit.Restore(); rerr != nil {
			err = &domain.Error{Kind: domain.KindIO, Op: "restore", FindingID: f.ID, File: file, Attempt: st.Number, Err: rerr}
			if out.record != nil {
				s.discardArtifact(ctx, out.record.Path, logger)
				out.record = nil
			}
		}
	}()

	original := edit.Original()
	if st.Number == 1 {
		st.OriginalContent = original
	} else if original != st.OriginalContent {
		return out, &domain.Error{Kind: domain.KindIO, Op: "verify original", FindingID: f.ID, File: file, Attempt: st.Number,
			Err: errors.New("file changed between attempts")}
	}

	r := loc.TextRange
	if r.EndLine > lineCount(original) {
		return out, &skipError{reason: fmt.Sprintf("line range %d-%d exceeds file length %d", r.StartLine, r.EndLine, lineCount(original))}
	}

	req := ai.FixRequest{
		FindingID:   f.ID,
		Name:        f.Name,
		Explanation: f.Explanation,
		Tags:        f.Tags,
		File:        file,
		Content:     original,
		StartLine:   r.StartLine,
		EndLine:     r.EndLine,
		Snippet:     ai.Lines(original, r.StartLine, r.EndLine),
		Attempt:     st.Number,
	}
	if st.PriorCandidate != "" {
		req.PriorDiff = s.Differ.Unified(original, st.PriorCandidate, file, s.Options.DiffContext)
	}
	req.PriorFailure = st.PriorFailure

	logger.Debug().Str("state", string(domain.StateProposing)).Msg("requesting candidate")
	candidate, err := s.Oracle.Propose(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		if ai.IsFatal(err) {
			return out, &domain.Error{Kind: domain.KindOracleAuth, Op: "propose", FindingID: f.ID, File: file, Attempt: st.Number, Err: err}
		}
		return outcome{state: domain.StateFailed, kind: domain.KindOracleTransient, failure: "fix oracle: " + err.Error()}, nil
	}
	candidate = matchLineEndings(original, candidate)
	if candidate == original {
		return outcome{state: domain.StateFailed, kind: domain.KindRejected, failure: "the proposed file is identical to the original"}, nil
	}

	// the before-set must come from the unmodified tree
	before := s.beforeSet(ctx, ledger, file, logger)
	if err := ctx.Err(); err != nil {
		return out, err
	}

	if err := edit.Write(candidate); err != nil {
		return out, &domain.Error{Kind: domain.KindIO, Op: "write candidate", FindingID: f.ID, File: file, Attempt: st.Number, Err: err}
	}
	logger.Debug().Str("state", string(domain.StateApplied)).Msg("candidate written")

	logger.Debug().Str("state", string(domain.StateBuildChecking)).Msg("running build")
	build, err := s.Build.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		return out, &domain.Error{Kind: domain.KindSetup, Op: "run build", FindingID: f.ID, File: file, Attempt: st.Number, Err: err}
	}
	if !build.Passed {
		return outcome{state: domain.StateBuildFailed, kind: domain.KindBuild, candidate: candidate, failure: build.Diagnostic}, nil
	}

	logger.Debug().Str("state", string(domain.StateRevalidating)).Msg("re-running analyzers")
	after, err := s.Scanner.Scan(ctx, findings.Scope{Files: []string{file}})
	if err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		return outcome{state: domain.StateRejected, kind: domain.KindRejected, candidate: candidate, failure: "revalidation failed: " + err.Error()}, nil
	}

	cmp := findings.Compare(before.list, after, file)
	key := f.Key()
	if cmp.InAfter(key) {
		return outcome{state: domain.StateRejected, kind: domain.KindRejected, candidate: candidate, failure: "the analyzer still reports this finding"}, nil
	}
	var introduced []string
	for _, k := range cmp.Introduced {
		introduced = append(introduced, k.Name)
	}
	if s.Options.RejectRegressions && before.scanned && len(introduced) > 0 {
		return outcome{state: domain.StateRejected, kind: domain.KindRejected, candidate: candidate,
			failure: "the change introduced new findings: " + strings.Join(introduced, ", ")}, nil
	}
	verification := findings.VerificationConfirmed
	if !cmp.InBefore(key) {
		verification = findings.VerificationUnconfirmed
		logger.Warn().Msg("finding absent from both analyzer runs, accepting on build result alone")
	}

	// computed while the candidate is still on disk, before the deferred restore
	text := s.Differ.Unified(original, candidate, file, s.Options.DiffContext)
	applied, err := s.Differ.Apply(original, text)
	if err != nil || applied != candidate {
		return outcome{state: domain.StateFailed, kind: domain.KindRejected, candidate: candidate, failure: "generated diff does not reproduce the candidate"}, nil
	}
	added, deleted, err := s.Differ.Stat(text)
	if err != nil {
		return outcome{state: domain.StateFailed, kind: domain.KindRejected, candidate: candidate, failure: "generated diff could not be parsed: " + err.Error()}, nil
	}

	art, err := s.Artifacts.Save(ctx, DiffName(file, f.ID, st.Number), []byte(text))
	if err != nil {
		return out, &domain.Error{Kind: domain.KindIO, Op: "save diff", FindingID: f.ID, File: file, Attempt: st.Number, Err: err}
	}

	return outcome{
		state:        domain.StateAccepted,
		candidate:    candidate,
		verification: verification,
		record: &findings.PatchRecord{
			Path:         art.Path,
			Explanation:  f.Explanation,
			Verification: verification,
			Attempt:      st.Number,
			Added:        added,
			Deleted:      deleted,
			URL:          art.URL,
			CreatedAt:    s.Clock.Now().UTC(),
		},
	}, nil
}

// discardArtifact removes a diff that no patch record will point to.
func (s *Service) discardArtifact(ctx context.Context, name string, logger zerolog.Logger) {
	rm, ok := s.Artifacts.(domain.ArtifactRemover)
	if !ok {
		logger.Warn().Str("artifact", name).Msg("orphaned diff left in the output directory")
		return
	}
	if err := rm.Remove(context.WithoutCancel(ctx), name); err != nil {
		logger.Warn().Err(err).Str("artifact", name).Msg("failed to remove orphaned diff")
	}
}

// beforeSet returns the before-set for file: one analyzer run on the
// unmodified tree, cached for the run. When that run fails the findings
// the ledger holds for the file are used instead.
func (s *Service) beforeSet(ctx context.Context, ledger []findings.Finding, file string, logger zerolog.Logger) baseline {
	if b, ok := s.baselines[file]; ok {
		return b
	}
	list, err := s.Scanner.Scan(ctx, findings.Scope{Files: []string{file}})
	if err != nil {
		if ctx.Err() != nil {
			return baseline{}
		}
		logger.Warn().Err(err).Msg("baseline scan failed, using ledger findings as the before-set")
		var fallback []findings.Finding
		for _, f := range ledger {
			if f.InFile(file) {
				fallback = append(fallback, f)
			}
		}
		b := baseline{list: fallback}
		s.baselines[file] = b
		return b
	}
	b := baseline{list: list, scanned: true}
	s.baselines[file] = b
	return b
}

func (s *Service) audit(ctx context.Context, f *findings.Finding, file string, attempt int, out outcome, elapsed time.Duration, logger zerolog.Logger) {
	if s.Observer != nil {
		s.Observer.ObserveAttempt(out.state, elapsed)
	}
	if s.Attempts == nil {
		return
	}
	rec := &domain.AttemptRecord{
		RunID:        s.Options.RunID,
		FindingID:    f.ID,
		FindingName:  f.Name,
		File:         file,
		Attempt:      attempt,
		State:        out.state,
		Verification: out.verification,
		Diagnostic:   out.failure,
		ErrorKind:    out.kind,
		CommitSHA:    s.Options.CommitSHA,
		DurationMS:   elapsed.Milliseconds(),
		CreatedAt:    s.Clock.Now().UTC(),
	}
	if out.record != nil {
		rec.DiffPath = out.record.Path
	}
	if err := s.Attempts.Save(context.WithoutCancel(ctx), rec); err != nil {
		logger.Warn().Err(err).Msg("failed to record attempt")
	}
}

// DiffName builds the artifact name for an accepted attempt.
func DiffName(file, findingID string, attempt int) string {
	base := path.Base(findings.NormalizePath(file))
	base = strings.TrimSuffix(base, path.Ext(base))
	id := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ':' || r == ' ' {
			return '_'
		}
		return r
	}, findingID)
	if id == "" {
		id = "noid"
	}
	if attempt > 1 {
		return fmt.Sprintf("%s_patch_%s_attempt_%d.diff", base, id, attempt)
	}
	return fmt.Sprintf("%s_patch_%s.diff", base, id)
}

// matchLineEndings gives the candidate the original's line terminator style
// and final-newline convention, so the diff only carries real edits.
func matchLineEndings(original, candidate string) string {
	nl := "\n"
	if strings.Contains(original, "\r\n") {
		nl = "\r\n"
		if !strings.Contains(candidate, "\r\n") {
			candidate = strings.ReplaceAll(candidate, "\n", "\r\n")
		}
	}
	switch {
	case strings.HasSuffix(original, "\n"):
		if !strings.HasSuffix(candidate, "\n") {
			candidate += nl
		}
	case original != "":
		candidate = strings.TrimSuffix(candidate, nl)
	}
	return candidate
}

func lineCount(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
