package persistence

import (
	"context"

	"github.com/loft-sh/wsmaster/cmd"
	"github.com/loft-sh/wsmaster/e2e/framework"
	"github.com/loft-sh/wsmaster/pkg/workspace"
	"github.com/loft-sh/wsmaster/pkg/workspace/workspacetest"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
)

var _ = WsmasterDescribe("wsmaster persistence test suite", func() {
	ginkgo.Context("testing daemon restarts", ginkgo.Label("persistence"), ginkgo.Ordered, func() {
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

		ginkgo.It("keeps workspaces and stops their machines across restarts", func() {
			client := f.Client("erin")
			ws, err := client.CreateWorkspace(ctx, workspacetest.Config("durable", "db"))
			framework.ExpectNoError(err)

			startCmd := &cmd.StartCmd{GlobalFlags: f.Flags("erin"), Wait: true, Timeout: framework.GetTimeout()}
			framework.ExpectNoError(startCmd.Run(ctx, "durable"))
			gomega.Expect(f.Machines.Running()).To(gomega.HaveLen(2))

			framework.ExpectNoError(f.Restart())
			gomega.Expect(f.Machines.Running()).To(gomega.BeEmpty())

			client = f.Client("erin")
			restored, err := client.GetWorkspaceByName(ctx, "durable", "")
			framework.ExpectNoError(err)
			gomega.Expect(restored.ID).To(gomega.Equal(ws.ID))
			gomega.Expect(restored.Status).To(gomega.Equal(workspace.StatusStopped))
			gomega.Expect(restored.Config.Attributes).To(gomega.HaveKeyWithValue("project", "wsmaster"))

			updated := workspacetest.Config("durable-renamed", "db", "cache")
			_, err = client.UpdateWorkspace(ctx, ws.ID, updated)
			framework.ExpectNoError(err)

			framework.ExpectNoError(f.Restart())

			workspaces, err := f.Client("erin").ListWorkspaces(ctx, "")
			framework.ExpectNoError(err)
			gomega.Expect(workspaces).To(gomega.HaveLen(1))
			gomega.Expect(workspaces[0].Config.Name).To(gomega.Equal("durable-renamed"))
			gomega.Expect(workspaces[0].Config.Environments[0].MachineConfigs).To(gomega.HaveLen(3))
		})
	})
})
