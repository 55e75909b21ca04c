package ciworkflow

import (
	"bytes"
	"fmt"
)

// CircleCIGenerator generates CircleCI pipeline YAML.
type CircleCIGenerator struct{}

// NewCircleCIGenerator creates a new CircleCI generator.
func NewCircleCIGenerator() *CircleCIGenerator {
	return &CircleCIGenerator{}
}

// DefaultOutputPath returns the conventional path for the pipeline.
func (g *CircleCIGenerator) DefaultOutputPath() string {
	return ".circleci/config.yml"
}

// DefaultTeardownOutputPath returns the conventional path for teardown.
func (g *CircleCIGenerator) DefaultTeardownOutputPath() string {
	return ".circleci/teardown.yml"
}

// Generate produces a CircleCI pipeline YAML file.
func (g *CircleCIGenerator) Generate(w Workflow) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString("# Backend credentials go in Project Settings > Environment Variables.\n\n")
	buf.WriteString("version: 2.1\n\n")

	writeCircleCICommands(&buf, w.InstallVersion)

	buf.WriteString("jobs:\n")
	for _, job := range w.Jobs {
		writeCircleCIJob(&buf, job)
	}

	buf.WriteString("workflows:\n")
	buf.WriteString(fmt.Sprintf("  %s:\n", sanitizeID(w.Name)))
	buf.WriteString("    jobs:\n")
	writeCircleCIWorkflowJobs(&buf, w.Jobs)

	return buf.Bytes(), nil
}

// GenerateTeardown produces a CircleCI teardown pipeline YAML file.
func (g *CircleCIGenerator) GenerateTeardown(w Workflow) ([]byte, error) {
	if len(w.TeardownJobs) == 0 {
		return nil, nil
	}

	var buf bytes.Buffer

	buf.WriteString("version: 2.1\n\n")

	writeCircleCICommands(&buf, w.InstallVersion)

	buf.WriteString("jobs:\n")
	for _, job := range w.TeardownJobs {
		writeCircleCIJob(&buf, job)
	}

	buf.WriteString("workflows:\n")
	buf.WriteString("  teardown:\n")
	buf.WriteString("    jobs:\n")
	writeCircleCIWorkflowJobs(&buf, w.TeardownJobs)

	return buf.Bytes(), nil
}

func writeCircleCICommands(buf *bytes.Buffer, installVersion string) {
	buf.WriteString("commands:\n")
	buf.WriteString("  install-stackctl:\n")
	buf.WriteString("    steps:\n")
	buf.WriteString("      - run:\n")
	buf.WriteString("          name: Install stackctl\n")
	buf.WriteString(fmt.Sprintf("          command: %s\n", installCommand(installVersion)))
	buf.WriteString("\n")
}

// writeCircleCIJob writes a single job in CircleCI format.
func writeCircleCIJob(buf *bytes.Buffer, job Job) {
	buf.WriteString(fmt.Sprintf("  %s:\n", job.ID))
	buf.WriteString("    docker:\n")
	buf.WriteString("      - image: cimg/base:current\n")
	buf.WriteString("    environment:\n")
	buf.WriteString("      COMMIT_SHA: << pipeline.git.revision >>\n")
	buf.WriteString("    steps:\n")
	buf.WriteString("      - checkout\n")
	buf.WriteString("      - install-stackctl\n")
	buf.WriteString("      - run:\n")
	buf.WriteString(fmt.Sprintf("          name: %s\n", job.Name))
	buf.WriteString(fmt.Sprintf("          command: >-\n            %s\n", job.Command))
	buf.WriteString("\n")
}

func writeCircleCIWorkflowJobs(buf *bytes.Buffer, jobs []Job) {
	for _, job := range jobs {
		if len(job.DependsOn) == 0 {
			buf.WriteString(fmt.Sprintf("      - %s\n", job.ID))
			continue
		}
		buf.WriteString(fmt.Sprintf("      - %s:\n", job.ID))
		buf.WriteString("          requires:\n")
		for _, dep := range job.DependsOn {
			buf.WriteString(fmt.Sprintf("            - %s\n", dep))
		}
	}
}
