package engine_test

import (
	"strings"
	"testing"

	"github.com/forgeline/forge/engine"
	. "github.com/onsi/gomega"
)

func TestEnvironmentComposition(t *testing.T) {
	t.Parallel()

	t.Run("step overlay wins over globals, globals win over inherited", func(t *testing.T) {
		t.Parallel()
		assert := NewGomegaWithT(t)

		composer := engine.NewComposer(
			[]string{"SHARED=inherited", "ONLY_INHERITED=yes"},
			map[string]string{"SHARED": "global", "ONLY_GLOBAL": "yes"},
		)

		env := composer.Compose(&engine.Step{
			Name: "build",
			Env:  map[string]string{"SHARED": "step"},
		}, nil)

		assert.Expect(env["SHARED"]).To(Equal("step"))
		assert.Expect(env["ONLY_INHERITED"]).To(Equal("yes"))
		assert.Expect(env["ONLY_GLOBAL"]).To(Equal("yes"))
	})

	t.Run("install prefixes feed every search path variable", func(t *testing.T) {
		t.Parallel()
		assert := NewGomegaWithT(t)

		composer := engine.NewComposer([]string{"PATH=/usr/bin"}, nil)

		env := composer.Compose(&engine.Step{Name: "build"}, []string{"/opt/a", "/opt/b"})

		assert.Expect(env["PATH"]).To(Equal("/opt/a/bin:/opt/b/bin:/usr/bin"))
		assert.Expect(env["LD_LIBRARY_PATH"]).To(Equal("/opt/a/lib:/opt/b/lib"))
		assert.Expect(env["LIBRARY_PATH"]).To(Equal("/opt/a/lib:/opt/b/lib"))
		assert.Expect(env["CPATH"]).To(Equal("/opt/a/include:/opt/b/include"))
		assert.Expect(env["PKG_CONFIG_PATH"]).To(Equal("/opt/a/lib/pkgconfig:/opt/b/lib/pkgconfig"))
	})

	t.Run("composition does not mutate prior compositions", func(t *testing.T) {
		t.Parallel()
		assert := NewGomegaWithT(t)

		composer := engine.NewComposer([]string{"PATH=/usr/bin"}, nil)

		first := composer.Compose(&engine.Step{Name: "one"}, []string{"/opt/a"})
		second := composer.Compose(&engine.Step{Name: "two"}, []string{"/opt/b"})

		assert.Expect(first["PATH"]).To(Equal("/opt/a/bin:/usr/bin"))
		assert.Expect(second["PATH"]).To(Equal("/opt/b/bin:/usr/bin"))
	})

	t.Run("both prefixes are present regardless of accumulation order", func(t *testing.T) {
		t.Parallel()
		assert := NewGomegaWithT(t)

		composer := engine.NewComposer(nil, nil)

		forward := composer.Compose(&engine.Step{Name: "c"}, []string{"/p1", "/p2"})
		backward := composer.Compose(&engine.Step{Name: "c"}, []string{"/p2", "/p1"})

		for _, env := range []engine.Environment{forward, backward} {
			assert.Expect(env["PATH"]).To(ContainSubstring("/p1/bin"))
			assert.Expect(env["PATH"]).To(ContainSubstring("/p2/bin"))
		}
	})

	t.Run("slice output is sorted and exec ready", func(t *testing.T) {
		t.Parallel()
		assert := NewGomegaWithT(t)

		composer := engine.NewComposer([]string{"B=2", "A=1"}, nil)
		env := composer.Compose(&engine.Step{Name: "s"}, nil)

		slice := env.Slice()
		assert.Expect(slice).To(ContainElements("A=1", "B=2"))

		for i := 1; i < len(slice); i++ {
			assert.Expect(strings.Compare(slice[i-1], slice[i])).To(BeNumerically("<", 0))
		}
	})
}
