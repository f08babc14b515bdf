package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"ats-platform/internal/audit"
	"ats-platform/internal/rbac"

	"golang.org/x/crypto/bcrypt"
)

func TestRunVerify(t *testing.T) {
	var out bytes.Buffer
	if err := runVerify(&out); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !strings.HasPrefix(out.String(), "catalog ok:") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestRunSeed_Idempotent(t *testing.T) {
	store := rbac.NewMemoryOverrideStore()
	ctx := context.Background()

	var out bytes.Buffer
	if err := runSeed(ctx, &out, store); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if !strings.Contains(out.String(), "seeded reviewer") || !strings.Contains(out.String(), "seeded admin") {
		t.Fatalf("unexpected output %q", out.String())
	}
	if strings.Contains(out.String(), "superadmin") {
		t.Fatalf("superadmin must never be seeded: %q", out.String())
	}

	out.Reset()
	if err := runSeed(ctx, &out, store); err != nil {
		t.Fatalf("second seed: %v", err)
	}
	if out.String() != "nothing to seed\n" {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestRunHashPassword(t *testing.T) {
	var out bytes.Buffer
	if err := runHashPassword(strings.NewReader("s3cret-pass\n"), &out); err != nil {
		t.Fatalf("hash: %v", err)
	}
	hash := strings.TrimSpace(out.String())
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret-pass")); err != nil {
		t.Fatalf("hash does not match: %v", err)
	}

	if err := runHashPassword(strings.NewReader(""), &out); err == nil {
		t.Fatalf("expected error for empty password")
	}
}

func TestRunPurge(t *testing.T) {
	repo := audit.NewMemoryRepo()
	ctx := context.Background()
	old := audit.Entry{
		ID:          "old-1",
		UserID:      "u-1",
		UserEmail:   "admin@jadara.app",
		UserRole:    rbac.RoleAdmin,
		Action:      audit.ActionJobCreated,
		Resource:    audit.ResourceJob,
		Description: "old",
		Severity:    audit.SeverityInfo,
		Timestamp:   time.Now().UTC().AddDate(0, 0, -200),
	}
	if err := repo.Append(ctx, old); err != nil {
		t.Fatalf("append: %v", err)
	}

	var out bytes.Buffer
	if err := runPurge(ctx, &out, audit.NewService(repo), 90); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if !strings.HasPrefix(out.String(), "deleted 1 entries") {
		t.Fatalf("unexpected output %q", out.String())
	}
	if err := runPurge(ctx, &out, audit.NewService(repo), 0); err == nil {
		t.Fatalf("expected error for days=0")
	}
}

func TestRootCommandTree(t *testing.T) {
	root := rootCmd()
	for _, path := range [][]string{
		{"audit", "purge"},
		{"catalog", "verify"},
		{"catalog", "seed"},
		{"user", "hash-password"},
	} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd.Name() != path[len(path)-1] {
			t.Fatalf("command %v not found: %v", path, err)
		}
	}
}

func TestHashPasswordCommand(t *testing.T) {
	root := rootCmd()
	var out bytes.Buffer
	root.SetIn(strings.NewReader("pw\n"))
	root.SetOut(&out)
	root.SetArgs([]string{"--env-file", "does-not-exist.env", "user", "hash-password"})
	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.HasPrefix(out.String(), "$2") {
		t.Fatalf("expected bcrypt hash, got %q", out.String())
	}
}
