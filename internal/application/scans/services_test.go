package scans

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/automaton-fix/internal/domain/findings"
)

type fakeScanner struct {
	list  []findings.Finding
	err   error
	scope findings.Scope
}

func (f *fakeScanner) Scan(ctx context.Context, scope findings.Scope) ([]findings.Finding, error) {
	f.scope = scope
	return f.list, f.err
}

type memLedger struct {
	list    []findings.Finding
	loadErr error
	saves   int
}

func (m *memLedger) Load(ctx context.Context) ([]findings.Finding, error) {
	return m.list, m.loadErr
}

func (m *memLedger) Save(ctx context.Context, list []findings.Finding) error {
	m.saves++
	m.list = list
	return nil
}

func finding(id, name, file string) findings.Finding {
	return findings.Finding{ID: id, Name: name, Items: []findings.Location{
		{TextRange: findings.TextRange{File: file, StartLine: 1, EndLine: 2}},
	}}
}

func TestScan_MergesSourcesAfterAnalyzers(t *testing.T) {
	out := &memLedger{}
	scanner := &fakeScanner{list: []findings.Finding{finding("11111", "SQL_INJECTION", "A.java")}}
	extra := &memLedger{list: []findings.Finding{
		finding("22222", "CVE-2021-44228", "pom.xml"),
		finding("11111", "SQL_INJECTION", "B.java"),
	}}
	next := 0
	svc := &Service{Scanner: scanner, Ledger: out, NewID: func() string {
		next++
		return fmt.Sprintf("9000%d", next)
	}}

	res, err := svc.Scan(context.Background(), ScanCommand{Sources: []findings.Ledger{extra}})
	require.NoError(t, err)

	require.Len(t, out.list, 3)
	assert.Equal(t, []string{"11111", "22222", "90001"}, []string{out.list[0].ID, out.list[1].ID, out.list[2].ID})
	assert.Equal(t, "B.java", out.list[2].Items[0].TextRange.File)
	assert.NotNil(t, out.list[0].Items[0].Patches)

	assert.Equal(t, 3, res.Findings)
	assert.Equal(t, 2, res.Merged)
	assert.Equal(t, 1, res.Renumbered)
	assert.Equal(t, []NameCount{{Name: "SQL_INJECTION", Count: 2}, {Name: "CVE-2021-44228", Count: 1}}, res.ByName)
}

func TestScan_FailureWritesNothing(t *testing.T) {
	out := &memLedger{}
	svc := &Service{Scanner: &fakeScanner{err: errors.New("pmd exited 2")}, Ledger: out}

	_, err := svc.Scan(context.Background(), ScanCommand{})
	assert.ErrorContains(t, err, "run analyzers")
	assert.Zero(t, out.saves)

	svc.Scanner = &fakeScanner{}
	_, err = svc.Scan(context.Background(), ScanCommand{Sources: []findings.Ledger{&memLedger{loadErr: errors.New("bad json")}}})
	assert.ErrorContains(t, err, "merge source 1")
	assert.Zero(t, out.saves)
}

func TestScan_SkipAnalyzers(t *testing.T) {
	out := &memLedger{}
	scanner := &fakeScanner{err: errors.New("must not run")}
	svc := &Service{Scanner: scanner, Ledger: out}

	res, err := svc.Scan(context.Background(), ScanCommand{
		SkipAnalyzers: true,
		Sources:       []findings.Ledger{&memLedger{list: []findings.Finding{finding("1", "X", "a")}}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Findings)
	assert.Equal(t, 1, out.saves)
}

func TestScan_EmptyResultWritesEmptyArray(t *testing.T) {
	out := &memLedger{}
	svc := &Service{Scanner: &fakeScanner{}, Ledger: out}

	_, err := svc.Scan(context.Background(), ScanCommand{Files: []string{"A.java"}})
	require.NoError(t, err)
	assert.NotNil(t, out.list)
	assert.Empty(t, out.list)
}

func TestGet(t *testing.T) {
	svc := &Service{Ledger: &memLedger{list: []findings.Finding{finding("1", "X", "a"), finding("2", "Y", "b")}}}

	got, err := svc.Get(context.Background(), "2")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Y", got[0].Name)

	_, err = svc.Get(context.Background(), "3")
	assert.ErrorIs(t, err, ErrNotFound)
}
