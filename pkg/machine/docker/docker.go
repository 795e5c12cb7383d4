package docker

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/loft-sh/log"
	"github.com/loft-sh/wsmaster/pkg/apierror"
	"github.com/loft-sh/wsmaster/pkg/machine"
	"github.com/loft-sh/wsmaster/pkg/workspace"
	"github.com/pkg/errors"
)

const (
	LabelMachineID   = "wsmaster.machine.id"
	LabelMachineName = "wsmaster.machine.name"
	LabelWorkspaceID = "wsmaster.workspace"
	LabelEnv         = "wsmaster.env"
	LabelOwner       = "wsmaster.owner"
	LabelDev         = "wsmaster.dev"
	LabelSnapshotID  = "wsmaster.snapshot"

	snapshotRepository = "wsmaster-snapshot"
)

// Options configure the docker machine manager
type Options struct {
	// Network is the docker network machines are attached to
	Network string

	// MemoryLimitMB is used for machines without a RAM limit
	MemoryLimitMB int
}

// Manager runs machines as docker containers and snapshots them as
// committed images
type Manager struct {
	docker  client.APIClient
	options Options
	log     log.Logger

	mu       sync.Mutex
	machines map[string]*machine.Machine
}

var _ machine.Manager = (*Manager)(nil)

func NewManager(docker client.APIClient, options Options, logger log.Logger) *Manager {
	return &Manager{
		docker:   docker,
		options:  options,
		log:      logger,
		machines: map[string]*machine.Machine{},
	}
}

// NewManagerFromEnv connects to the docker daemon configured in the environment
func NewManagerFromEnv(options Options, logger log.Logger) (*Manager, error) {
	docker, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Wrap(err, "create docker client")
	}

	return NewManager(docker, options, logger), nil
}

func (m *Manager) CreateMachineSync(ctx context.Context, config machine.Config, workspaceID, envName, owner string) (*machine.Machine, error) {
	if config.Source == nil {
		return nil, apierror.BadRequest("Machine '%s' requires a source", config.Name)
	}

	newMachine := m.newMachine(config, workspaceID, envName, owner)
	imageName, err := m.resolveImage(ctx, newMachine)
	if err != nil {
		return nil, apierror.Ensure(err)
	}

	return m.run(ctx, newMachine, imageName)
}

func (m *Manager) RecoverMachine(ctx context.Context, config machine.Config, workspaceID, envName, owner string) (*machine.Machine, error) {
	snapshots, err := m.listSnapshots(ctx, filters.Arg("label", LabelWorkspaceID+"="+workspaceID))
	if err != nil {
		return nil, apierror.Ensure(err)
	}

	var latest *machine.Snapshot
	for _, snapshot := range snapshots {
		if snapshot.EnvName != envName || snapshot.MachineName != config.Name {
			continue
		}
		if latest == nil || snapshot.CreationTimestamp.After(latest.CreationTimestamp) {
			latest = snapshot
		}
	}
	if latest == nil {
		return nil, apierror.NotFound("Snapshot for machine '%s' of workspace '%s' not found", config.Name, workspaceID)
	}

	m.log.Debugf("recover machine %s of workspace %s from snapshot %s", config.Name, workspaceID, latest.ID)
	return m.run(ctx, m.newMachine(config, workspaceID, envName, owner), latest.ImageID)
}

func (m *Manager) newMachine(config machine.Config, workspaceID, envName, owner string) *machine.Machine {
	return &machine.Machine{
		ID:                machine.NewID(),
		WorkspaceID:       workspaceID,
		EnvName:           envName,
		Owner:             owner,
		Config:            config.Copy(),
		Status:            machine.StatusCreating,
		CreationTimestamp: time.Now(),
	}
}

func (m *Manager) run(ctx context.Context, newMachine *machine.Machine, imageName string) (*machine.Machine, error) {
	containerCfg, hostCfg, err := m.containerConfig(newMachine, imageName)
	if err != nil {
		return nil, err
	}

	var networkCfg *network.NetworkingConfig
	if m.options.Network != "" {
		networkCfg = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				m.options.Network: {},
			},
		}
	}

	name := workspace.ToResourceName("wsmaster", newMachine.WorkspaceID, newMachine.Config.Name, newMachine.ID)
	resp, err := m.docker.ContainerCreate(ctx, containerCfg, hostCfg, networkCfg, nil, name)
	if err != nil {
		if !errdefs.IsNotFound(err) {
			return nil, apierror.Ensure(errors.Wrapf(err, "create container for machine %s", newMachine.Config.Name))
		}
		if err := m.pullImage(ctx, imageName); err != nil {
			return nil, apierror.Ensure(err)
		}
		resp, err = m.docker.ContainerCreate(ctx, containerCfg, hostCfg, networkCfg, nil, name)
		if err != nil {
			return nil, apierror.Ensure(errors.Wrapf(err, "create container for machine %s after pull", newMachine.Config.Name))
		}
	}

	err = m.docker.ContainerStart(ctx, resp.ID, container.StartOptions{})
	if err != nil {
		_ = m.docker.ContainerRemove(context.WithoutCancel(ctx), resp.ID, container.RemoveOptions{Force: true, RemoveVolumes: true})
		return nil, apierror.Ensure(errors.Wrapf(err, "start container for machine %s", newMachine.Config.Name))
	}

	newMachine.ContainerID = resp.ID
	newMachine.Status = machine.StatusRunning

	m.mu.Lock()
	m.machines[newMachine.ID] = newMachine
	m.mu.Unlock()

	m.log.Infof("machine %s of workspace %s is running in container %s", newMachine.Config.Name, newMachine.WorkspaceID, shortID(resp.ID))
	return newMachine.Copy(), nil
}

func (m *Manager) containerConfig(newMachine *machine.Machine, imageName string) (*container.Config, *container.HostConfig, error) {
	exposedPorts, portBindings, err := nat.ParsePortSpecs(newMachine.Config.Ports)
	if err != nil {
		return nil, nil, apierror.BadRequest("Machine '%s' has invalid ports: %v", newMachine.Config.Name, err)
	}

	envKeys := make([]string, 0, len(newMachine.Config.Envs))
	for key := range newMachine.Config.Envs {
		envKeys = append(envKeys, key)
	}
	sort.Strings(envKeys)
	env := make([]string, 0, len(envKeys))
	for _, key := range envKeys {
		env = append(env, key+"="+newMachine.Config.Envs[key])
	}

	containerCfg := &container.Config{
		Image:        imageName,
		Env:          env,
		ExposedPorts: exposedPorts,
		Labels:       machineLabels(newMachine),
	}

	hostCfg := &container.HostConfig{
		PortBindings:    portBindings,
		PublishAllPorts: len(portBindings) == 0 && len(exposedPorts) > 0,
	}
	memoryLimit := newMachine.Config.Limits.RAM
	if memoryLimit == 0 {
		memoryLimit = m.options.MemoryLimitMB
	}
	if memoryLimit > 0 {
		hostCfg.Resources.Memory = int64(memoryLimit) * 1024 * 1024
	}

	return containerCfg, hostCfg, nil
}

// Destroy stops and removes the container of the machine. Machines created
// by another process are found through their labels.
func (m *Manager) Destroy(ctx context.Context, machineID string, removeVolumes bool) error {
	containerID, err := m.containerID(ctx, machineID)
	if err != nil {
		return err
	}

	m.log.Debugf("destroy machine %s (container %s)", machineID, shortID(containerID))
	if err := m.docker.ContainerStop(ctx, containerID, container.StopOptions{}); err != nil {
		if !errdefs.IsNotFound(err) {
			return apierror.Ensure(errors.Wrapf(err, "stop container of machine %s", machineID))
		}
	}
	if err := m.docker.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true, RemoveVolumes: removeVolumes}); err != nil {
		if !errdefs.IsNotFound(err) {
			return apierror.Ensure(errors.Wrapf(err, "remove container of machine %s", machineID))
		}
	}

	m.mu.Lock()
	delete(m.machines, machineID)
	m.mu.Unlock()
	return nil
}

func (m *Manager) containerID(ctx context.Context, machineID string) (string, error) {
	m.mu.Lock()
	existing, ok := m.machines[machineID]
	m.mu.Unlock()
	if ok {
		return existing.ContainerID, nil
	}

	containers, err := m.docker.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", LabelMachineID+"="+machineID)),
	})
	if err != nil {
		return "", apierror.Ensure(errors.Wrapf(err, "find container of machine %s", machineID))
	} else if len(containers) == 0 {
		return "", apierror.NotFound("Machine %s not found", machineID)
	}

	return containers[0].ID, nil
}

// SaveSync commits the container of the machine into a snapshot image and
// removes older snapshots of the same machine
func (m *Manager) SaveSync(ctx context.Context, machineID, owner, envName string) (*machine.Snapshot, error) {
	m.mu.Lock()
	existing, ok := m.machines[machineID]
	if ok {
		existing = existing.Copy()
	}
	m.mu.Unlock()
	if !ok {
		return nil, apierror.NotFound("Machine %s not found", machineID)
	}

	snapshot := &machine.Snapshot{
		ID:                machine.NewSnapshotID(),
		WorkspaceID:       existing.WorkspaceID,
		EnvName:           envName,
		MachineName:       existing.Config.Name,
		Owner:             owner,
		Dev:               existing.Config.Dev,
		CreationTimestamp: time.Now(),
	}
	labels := snapshotLabels(snapshot)

	previous, err := m.listSnapshots(ctx,
		filters.Arg("label", LabelWorkspaceID+"="+snapshot.WorkspaceID),
		filters.Arg("label", LabelMachineName+"="+snapshot.MachineName),
		filters.Arg("label", LabelEnv+"="+envName),
	)
	if err != nil {
		return nil, apierror.Ensure(err)
	}

	resp, err := m.docker.ContainerCommit(ctx, existing.ContainerID, container.CommitOptions{
		Reference: snapshotRepository + ":" + workspace.ToResourceName(snapshot.WorkspaceID, snapshot.MachineName, snapshot.ID),
		Comment:   fmt.Sprintf("snapshot of machine %s in workspace %s", snapshot.MachineName, snapshot.WorkspaceID),
		Config:    &container.Config{Labels: labels},
		Pause:     true,
	})
	if err != nil {
		return nil, apierror.Ensure(errors.Wrapf(err, "commit machine %s", machineID))
	}
	snapshot.ImageID = resp.ID

	for _, old := range previous {
		_, err := m.docker.ImageRemove(ctx, old.ImageID, image.RemoveOptions{Force: true, PruneChildren: true})
		if err != nil && !errdefs.IsNotFound(err) {
			m.log.Warnf("remove old snapshot %s of machine %s: %v", old.ID, snapshot.MachineName, err)
		}
	}

	m.log.Infof("saved machine %s of workspace %s as snapshot %s", snapshot.MachineName, snapshot.WorkspaceID, snapshot.ID)
	return snapshot, nil
}

func (m *Manager) GetSnapshots(ctx context.Context, owner, workspaceID string) ([]*machine.Snapshot, error) {
	snapshots, err := m.listSnapshots(ctx,
		filters.Arg("label", LabelWorkspaceID+"="+workspaceID),
		filters.Arg("label", LabelOwner+"="+owner),
	)
	if err != nil {
		return nil, apierror.Ensure(err)
	}

	return snapshots, nil
}

func (m *Manager) listSnapshots(ctx context.Context, args ...filters.KeyValuePair) ([]*machine.Snapshot, error) {
	args = append(args, filters.Arg("label", LabelSnapshotID))
	images, err := m.docker.ImageList(ctx, image.ListOptions{Filters: filters.NewArgs(args...)})
	if err != nil {
		return nil, errors.Wrap(err, "list snapshot images")
	}

	out := []*machine.Snapshot{}
	for _, img := range images {
		out = append(out, snapshotFromLabels(img.ID, img.Created, img.Labels))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreationTimestamp.Before(out[j].CreationTimestamp)
	})
	return out, nil
}

func (m *Manager) pullImage(ctx context.Context, imageName string) error {
	m.log.Infof("pulling image %s", imageName)
	resp, err := m.docker.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return errors.Wrapf(err, "pull image %s", imageName)
	}
	defer resp.Close()

	if _, err := io.Copy(io.Discard, resp); err != nil {
		return errors.Wrapf(err, "pull image %s: read response", imageName)
	}
	return nil
}

func machineLabels(m *machine.Machine) map[string]string {
	return map[string]string{
		LabelMachineID:   m.ID,
		LabelMachineName: m.Config.Name,
		LabelWorkspaceID: m.WorkspaceID,
		LabelEnv:         m.EnvName,
		LabelOwner:       m.Owner,
		LabelDev:         strconv.FormatBool(m.Config.Dev),
	}
}

func snapshotLabels(snapshot *machine.Snapshot) map[string]string {
	return map[string]string{
		LabelSnapshotID:  snapshot.ID,
		LabelMachineName: snapshot.MachineName,
		LabelWorkspaceID: snapshot.WorkspaceID,
		LabelEnv:         snapshot.EnvName,
		LabelOwner:       snapshot.Owner,
		LabelDev:         strconv.FormatBool(snapshot.Dev),
	}
}

func snapshotFromLabels(imageID string, created int64, labels map[string]string) *machine.Snapshot {
	dev, _ := strconv.ParseBool(labels[LabelDev])
	return &machine.Snapshot{
		ID:                labels[LabelSnapshotID],
		WorkspaceID:       labels[LabelWorkspaceID],
		EnvName:           labels[LabelEnv],
		MachineName:       labels[LabelMachineName],
		Owner:             labels[LabelOwner],
		Dev:               dev,
		ImageID:           imageID,
		CreationTimestamp: time.Unix(created, 0),
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
