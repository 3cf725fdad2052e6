package engine_test

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/forgeline/forge/engine"
	. "github.com/onsi/gomega"
)

func TestArtifactProbe(t *testing.T) {
	t.Parallel()

	probe := engine.NewProbe(slog.Default())

	t.Run("a step with no artifacts is never present", func(t *testing.T) {
		t.Parallel()
		assert := NewGomegaWithT(t)

		assert.Expect(probe.Present(&engine.Step{Name: "always-run"})).To(BeFalse())
	})

	t.Run("present when the declared file exists", func(t *testing.T) {
		t.Parallel()
		assert := NewGomegaWithT(t)

		path := filepath.Join(t.TempDir(), "libcodec.so")
		assert.Expect(os.WriteFile(path, []byte("binary"), 0o644)).To(Succeed())

		assert.Expect(probe.Present(&engine.Step{
			Name:      "build",
			Artifacts: []engine.Artifact{{Path: path}},
		})).To(BeTrue())
	})

	t.Run("absent when any declared file is missing", func(t *testing.T) {
		t.Parallel()
		assert := NewGomegaWithT(t)

		dir := t.TempDir()
		existing := filepath.Join(dir, "present")
		assert.Expect(os.WriteFile(existing, []byte("x"), 0o644)).To(Succeed())

		assert.Expect(probe.Present(&engine.Step{
			Name: "build",
			Artifacts: []engine.Artifact{
				{Path: existing},
				{Path: filepath.Join(dir, "missing")},
			},
		})).To(BeFalse())
	})

	t.Run("glob patterns need at least one match", func(t *testing.T) {
		t.Parallel()
		assert := NewGomegaWithT(t)

		dir := t.TempDir()
		assert.Expect(os.MkdirAll(filepath.Join(dir, "lib", "x86_64"), 0o755)).To(Succeed())
		assert.Expect(os.WriteFile(filepath.Join(dir, "lib", "x86_64", "libvmaf.so.3"), []byte("so"), 0o644)).To(Succeed())

		assert.Expect(probe.Present(&engine.Step{
			Name:      "vmaf",
			Artifacts: []engine.Artifact{{Path: filepath.Join(dir, "lib", "**", "libvmaf.so*")}},
		})).To(BeTrue())

		assert.Expect(probe.Present(&engine.Step{
			Name:      "vmaf",
			Artifacts: []engine.Artifact{{Path: filepath.Join(dir, "lib", "**", "libother.so*")}},
		})).To(BeFalse())
	})

	t.Run("hash match is present, mismatch is absent", func(t *testing.T) {
		t.Parallel()
		assert := NewGomegaWithT(t)

		path := filepath.Join(t.TempDir(), "artifact")
		contents := []byte("expected contents")
		assert.Expect(os.WriteFile(path, contents, 0o644)).To(Succeed())

		digest := sha256.Sum256(contents)

		assert.Expect(probe.Present(&engine.Step{
			Name:      "hashed",
			Artifacts: []engine.Artifact{{Path: path, SHA256: hex.EncodeToString(digest[:])}},
		})).To(BeTrue())

		assert.Expect(probe.Present(&engine.Step{
			Name:      "hashed",
			Artifacts: []engine.Artifact{{Path: path, SHA256: "deadbeef"}},
		})).To(BeFalse())
	})

	t.Run("unreadable artifact degrades to absent", func(t *testing.T) {
		t.Parallel()
		assert := NewGomegaWithT(t)

		if os.Geteuid() == 0 {
			t.Skip("root ignores file permissions")
		}

		dir := t.TempDir()
		path := filepath.Join(dir, "secret")
		assert.Expect(os.WriteFile(path, []byte("x"), 0o644)).To(Succeed())
		assert.Expect(os.Chmod(path, 0o000)).To(Succeed())
		t.Cleanup(func() { _ = os.Chmod(path, 0o644) })

		assert.Expect(probe.Present(&engine.Step{
			Name:      "unreadable",
			Artifacts: []engine.Artifact{{Path: path, SHA256: "deadbeef"}},
		})).To(BeFalse())
	})
}
