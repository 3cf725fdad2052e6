package pipeline_test

import (
	"testing"
	"time"

	"github.com/forgeline/forge/engine"
	"github.com/forgeline/forge/pipeline"
	. "github.com/onsi/gomega"
)

func TestParse(t *testing.T) {
	t.Parallel()

	t.Run("parses a full definition", func(t *testing.T) {
		t.Parallel()
		assert := NewGomegaWithT(t)

		definition, err := pipeline.Parse([]byte(`
name: media-toolchain
env:
  MAKEFLAGS: -j8
output_limit_kb: 32
steps:
  - name: toolkit
    run:
      path: ./install.sh
      args: [--silent]
    artifacts:
      - /usr/local/cuda/bin/nvcc
      - path: /usr/local/cuda/version.json
        sha256: abc123
    install_prefix: /usr/local/cuda
    attempts: 2
    timeout: 30m
  - name: suite
    needs: [toolkit]
    run: { path: make, args: [install] }
    fatal: false
    when: 'platform == "linux"'
`))
		assert.Expect(err).NotTo(HaveOccurred())
		assert.Expect(definition.Config.Name).To(Equal("media-toolchain"))
		assert.Expect(definition.Config.OutputLimitKB).To(Equal(32))

		steps, err := definition.Compile()
		assert.Expect(err).NotTo(HaveOccurred())
		assert.Expect(steps).To(HaveLen(2))

		toolkit := steps[0]
		assert.Expect(toolkit.Command.Path).To(Equal("./install.sh"))
		assert.Expect(toolkit.Artifacts).To(Equal([]engine.Artifact{
			{Path: "/usr/local/cuda/bin/nvcc"},
			{Path: "/usr/local/cuda/version.json", SHA256: "abc123"},
		}))
		assert.Expect(toolkit.Attempts).To(Equal(2))
		assert.Expect(toolkit.Fatal).To(BeTrue())
		assert.Expect(toolkit.Timeout).To(Equal(30 * time.Minute))

		suite := steps[1]
		assert.Expect(suite.Fatal).To(BeFalse())
		assert.Expect(suite.When).NotTo(BeNil())
	})

	t.Run("rejects unknown fields strictly", func(t *testing.T) {
		t.Parallel()
		assert := NewGomegaWithT(t)

		_, err := pipeline.Parse([]byte(`
name: typo
steps:
  - name: a
    run: { path: make }
    artefacts: [/tmp/out]
`))
		assert.Expect(err).To(MatchError(pipeline.ErrInvalidPipeline))
	})

	t.Run("rejects a step without a command", func(t *testing.T) {
		t.Parallel()
		assert := NewGomegaWithT(t)

		_, err := pipeline.Parse([]byte(`
name: incomplete
steps:
  - name: a
`))
		assert.Expect(err).To(MatchError(pipeline.ErrInvalidPipeline))
	})

	t.Run("rejects a pipeline without steps", func(t *testing.T) {
		t.Parallel()
		assert := NewGomegaWithT(t)

		_, err := pipeline.Parse([]byte(`name: empty`))
		assert.Expect(err).To(MatchError(pipeline.ErrInvalidPipeline))
	})
}

func TestCompileErrors(t *testing.T) {
	t.Parallel()

	t.Run("bad timeout is a configuration error", func(t *testing.T) {
		t.Parallel()
		assert := NewGomegaWithT(t)

		definition, err := pipeline.Parse([]byte(`
name: bad-timeout
steps:
  - name: a
    run: { path: make }
    timeout: eventually
`))
		assert.Expect(err).NotTo(HaveOccurred())

		_, err = definition.Compile()
		assert.Expect(err).To(MatchError(pipeline.ErrInvalidPipeline))
	})

	t.Run("bad when expression is a configuration error", func(t *testing.T) {
		t.Parallel()
		assert := NewGomegaWithT(t)

		definition, err := pipeline.Parse([]byte(`
name: bad-when
steps:
  - name: a
    run: { path: make }
    when: 'platform =='
`))
		assert.Expect(err).NotTo(HaveOccurred())

		_, err = definition.Compile()
		assert.Expect(err).To(MatchError(pipeline.ErrInvalidPipeline))
	})
}

func TestGraphConstruction(t *testing.T) {
	t.Parallel()

	t.Run("unknown dependency surfaces as invalid pipeline", func(t *testing.T) {
		t.Parallel()
		assert := NewGomegaWithT(t)

		definition, err := pipeline.Parse([]byte(`
name: dangling
steps:
  - name: a
    needs: [ghost]
    run: { path: make }
`))
		assert.Expect(err).NotTo(HaveOccurred())

		_, err = definition.Graph()
		assert.Expect(err).To(MatchError(pipeline.ErrInvalidPipeline))
		assert.Expect(err).To(MatchError(engine.ErrUnknownDependency))
	})

	t.Run("cycle surfaces as invalid pipeline before anything runs", func(t *testing.T) {
		t.Parallel()
		assert := NewGomegaWithT(t)

		definition, err := pipeline.Parse([]byte(`
name: cyclic
steps:
  - name: a
    needs: [b]
    run: { path: make }
  - name: b
    needs: [a]
    run: { path: make }
`))
		assert.Expect(err).NotTo(HaveOccurred())

		_, err = definition.Graph()
		assert.Expect(err).To(MatchError(pipeline.ErrInvalidPipeline))
		assert.Expect(err).To(MatchError(engine.ErrCycle))
	})
}
