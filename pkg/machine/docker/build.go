package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/docker/docker/api/types/build"
	"github.com/loft-sh/wsmaster/pkg/apierror"
	"github.com/loft-sh/wsmaster/pkg/machine"
	"github.com/loft-sh/wsmaster/pkg/workspace"
	"github.com/pkg/errors"
)

// resolveImage returns the image a new machine is started from, building it
// first for dockerfile sources
func (m *Manager) resolveImage(ctx context.Context, newMachine *machine.Machine) (string, error) {
	source := newMachine.Config.Source
	switch source.Type {
	case machine.SourceTypeImage:
		if source.Location == "" {
			return "", apierror.BadRequest("Machine '%s' has an image source without location", newMachine.Config.Name)
		}
		return source.Location, nil
	case machine.SourceTypeDockerfile:
		return m.buildImage(ctx, newMachine)
	default:
		return "", apierror.BadRequest("Machine '%s' has unsupported source type '%s'", newMachine.Config.Name, source.Type)
	}
}

func (m *Manager) buildImage(ctx context.Context, newMachine *machine.Machine) (string, error) {
	source := newMachine.Config.Source
	tag := "wsmaster-build:" + workspace.ToResourceName(newMachine.WorkspaceID, newMachine.Config.Name)
	options := build.ImageBuildOptions{
		Tags:        []string{tag},
		Remove:      true,
		ForceRemove: true,
		Labels: map[string]string{
			LabelWorkspaceID: newMachine.WorkspaceID,
			LabelMachineName: newMachine.Config.Name,
		},
	}

	var buildContext io.Reader
	if source.Content != "" {
		archive, err := dockerfileArchive(source.Content)
		if err != nil {
			return "", err
		}
		buildContext = archive
		options.Dockerfile = "Dockerfile"
	} else if source.Location != "" {
		options.RemoteContext = source.Location
	} else {
		return "", apierror.BadRequest("Machine '%s' has a dockerfile source without content or location", newMachine.Config.Name)
	}

	m.log.Infof("building image %s for machine %s", tag, newMachine.Config.Name)
	resp, err := m.docker.ImageBuild(ctx, buildContext, options)
	if err != nil {
		return "", errors.Wrapf(err, "build image for machine %s", newMachine.Config.Name)
	}
	defer resp.Body.Close()

	if err := readBuildOutput(resp.Body); err != nil {
		return "", errors.Wrapf(err, "build image for machine %s", newMachine.Config.Name)
	}
	return tag, nil
}

type buildMessage struct {
	Stream string `json:"stream,omitempty"`
	Error  string `json:"error,omitempty"`
}

// readBuildOutput drains the build stream and returns the first reported error
func readBuildOutput(reader io.Reader) error {
	decoder := json.NewDecoder(reader)
	for {
		message := buildMessage{}
		err := decoder.Decode(&message)
		if err == io.EOF {
			return nil
		} else if err != nil {
			return errors.Wrap(err, "decode build output")
		}

		if message.Error != "" {
			return errors.New(strings.TrimSpace(message.Error))
		}
	}
}

func dockerfileArchive(content string) (io.Reader, error) {
	buf := &bytes.Buffer{}
	writer := tar.NewWriter(buf)
	err := writer.WriteHeader(&tar.Header{
		Name: "Dockerfile",
		Mode: 0644,
		Size: int64(len(content)),
	})
	if err != nil {
		return nil, errors.Wrap(err, "write dockerfile header")
	}
	if _, err := writer.Write([]byte(content)); err != nil {
		return nil, errors.Wrap(err, "write dockerfile")
	}
	if err := writer.Close(); err != nil {
		return nil, errors.Wrap(err, "close build context")
	}

	return buf, nil
}
