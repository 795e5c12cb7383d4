package lifecycle

import (
	"context"

	"github.com/loft-sh/wsmaster/cmd"
	"github.com/loft-sh/wsmaster/e2e/framework"
	"github.com/loft-sh/wsmaster/pkg/apierror"
	"github.com/loft-sh/wsmaster/pkg/workspace"
	"github.com/loft-sh/wsmaster/pkg/workspace/workspacetest"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
)

var _ = WsmasterDescribe("wsmaster workspace lifecycle test suite", func() {
	ginkgo.Context("testing workspace commands", ginkgo.Label("lifecycle"), ginkgo.Ordered, func() {
		var f *framework.Framework
		ctx := context.Background()

		ginkgo.BeforeAll(func() {
			var err error
			f, err = framework.NewDefaultFramework()
			framework.ExpectNoError(err)
		})

		ginkgo.AfterAll(func() {
			framework.ExpectNoError(f.Close())
		})

		ginkgo.It("creates, starts, snapshots, recovers and deletes a workspace", func() {
			path, err := f.WriteWorkspaceConfig(workspacetest.Config("lifecycle", "db"))
			framework.ExpectNoError(err)

			globalFlags := f.Flags("alice")
			createCmd := &cmd.CreateCmd{GlobalFlags: globalFlags, File: path, Output: "plain"}
			framework.ExpectNoError(createCmd.Run(ctx))

			client := f.Client("alice")
			ws, err := client.GetWorkspaceByName(ctx, "lifecycle", "")
			framework.ExpectNoError(err)
			gomega.Expect(ws.Owner).To(gomega.Equal("alice"))
			gomega.Expect(ws.Status).To(gomega.Equal(workspace.StatusStopped))

			startCmd := &cmd.StartCmd{GlobalFlags: globalFlags, Wait: true, Timeout: framework.GetTimeout()}
			framework.ExpectNoError(startCmd.Run(ctx, "lifecycle"))

			runtimeWorkspace, err := client.GetRuntimeWorkspace(ctx, ws.ID)
			framework.ExpectNoError(err)
			gomega.Expect(runtimeWorkspace.Status).To(gomega.Equal(workspace.StatusRunning))
			gomega.Expect(runtimeWorkspace.Machines).To(gomega.HaveLen(2))
			gomega.Expect(runtimeWorkspace.DevMachine.Config.Name).To(gomega.Equal(workspacetest.DevMachine))

			snapshotCmd := &cmd.SnapshotCreateCmd{GlobalFlags: globalFlags, Wait: true, Timeout: framework.GetTimeout()}
			framework.ExpectNoError(snapshotCmd.Run(ctx, ws.ID))

			snapshots, err := client.GetSnapshot(ctx, ws.ID)
			framework.ExpectNoError(err)
			gomega.Expect(snapshots).To(gomega.HaveLen(1))
			gomega.Expect(snapshots[0].Dev).To(gomega.BeTrue())

			stopCmd := &cmd.StopCmd{GlobalFlags: globalFlags, Wait: true, Timeout: framework.GetTimeout()}
			framework.ExpectNoError(stopCmd.Run(ctx, "lifecycle"))
			gomega.Expect(f.Machines.Running()).To(gomega.BeEmpty())

			recoverCmd := &cmd.StartCmd{GlobalFlags: globalFlags, Recover: true, Wait: true, Timeout: framework.GetTimeout()}
			framework.ExpectNoError(recoverCmd.Run(ctx, "lifecycle"))
			gomega.Expect(f.Machines.Calls("RecoverMachine")).NotTo(gomega.BeEmpty())

			ws, err = client.GetWorkspace(ctx, ws.ID)
			framework.ExpectNoError(err)
			gomega.Expect(ws.Status).To(gomega.Equal(workspace.StatusRunning))

			deleteCmd := &cmd.DeleteCmd{GlobalFlags: globalFlags, Force: true}
			framework.ExpectNoError(deleteCmd.Run(ctx, "lifecycle"))
			gomega.Expect(f.Machines.Running()).To(gomega.BeEmpty())

			_, err = client.GetWorkspace(ctx, ws.ID)
			gomega.Expect(apierror.IsNotFound(err)).To(gomega.BeTrue())

			deleteCmd = &cmd.DeleteCmd{GlobalFlags: globalFlags, IgnoreNotFound: true}
			framework.ExpectNoError(deleteCmd.Run(ctx, "lifecycle"))
		})

		ginkgo.It("rejects a second workspace with the same name for the same owner", func() {
			client := f.Client("bob")
			_, err := client.CreateWorkspace(ctx, workspacetest.Config("shared-name"))
			framework.ExpectNoError(err)

			_, err = client.CreateWorkspace(ctx, workspacetest.Config("shared-name"))
			gomega.Expect(apierror.IsConflict(err)).To(gomega.BeTrue())

			_, err = f.Client("carol").CreateWorkspace(ctx, workspacetest.Config("shared-name"))
			framework.ExpectNoError(err)
		})

		ginkgo.It("fails a start in an unknown environment", func() {
			client := f.Client("dave")
			ws, err := client.CreateWorkspace(ctx, workspacetest.Config("unknown-env"))
			framework.ExpectNoError(err)

			startCmd := &cmd.StartCmd{GlobalFlags: f.Flags("dave"), Environment: "missing", Wait: true, Timeout: framework.GetTimeout()}
			err = startCmd.Run(ctx, ws.ID)
			gomega.Expect(err).To(gomega.MatchError(gomega.ContainSubstring("doesn't have environment 'missing'")))

			ws, err = client.GetWorkspace(ctx, ws.ID)
			framework.ExpectNoError(err)
			gomega.Expect(ws.Status).To(gomega.Equal(workspace.StatusStopped))
		})
	})
})
