package temporary

import (
	"context"

	"github.com/loft-sh/wsmaster/cmd"
	"github.com/loft-sh/wsmaster/e2e/framework"
	"github.com/loft-sh/wsmaster/pkg/workspace"
	"github.com/loft-sh/wsmaster/pkg/workspace/workspacetest"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
)

var _ = WsmasterDescribe("wsmaster temporary workspace test suite", func() {
	ginkgo.Context("testing run command", ginkgo.Label("temporary"), ginkgo.Ordered, func() {
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

		ginkgo.It("runs a temporary workspace and forgets it once stopped", func() {
			path, err := f.WriteWorkspaceConfig(workspacetest.Config("scratch", "cache"))
			framework.ExpectNoError(err)

			runCmd := &cmd.RunCmd{GlobalFlags: f.Flags(""), File: path, Output: "plain"}
			framework.ExpectNoError(runCmd.Run(ctx))

			client := f.Client("")
			runtimes, err := client.ListRuntimeWorkspaces(ctx, framework.DefaultOwner)
			framework.ExpectNoError(err)
			gomega.Expect(runtimes).To(gomega.HaveLen(1))
			gomega.Expect(runtimes[0].Temporary).To(gomega.BeTrue())
			gomega.Expect(runtimes[0].Status).To(gomega.Equal(workspace.StatusRunning))
			gomega.Expect(f.Machines.Running()).To(gomega.HaveLen(2))

			stored, err := client.ListWorkspaces(ctx, framework.DefaultOwner)
			framework.ExpectNoError(err)
			gomega.Expect(stored).To(gomega.BeEmpty())

			stopCmd := &cmd.StopCmd{GlobalFlags: f.Flags(""), Wait: true, Timeout: framework.GetTimeout()}
			framework.ExpectNoError(stopCmd.Run(ctx, runtimes[0].ID))
			f.Wait()

			runtimes, err = client.ListRuntimeWorkspaces(ctx, framework.DefaultOwner)
			framework.ExpectNoError(err)
			gomega.Expect(runtimes).To(gomega.BeEmpty())
			gomega.Expect(f.Machines.Running()).To(gomega.BeEmpty())
		})

		ginkgo.It("rejects an invalid temporary workspace", func() {
			config := workspacetest.Config("invalid")
			config.Environments[0].MachineConfigs = nil
			path, err := f.WriteWorkspaceConfig(config)
			framework.ExpectNoError(err)

			validateCmd := &cmd.ValidateCmd{GlobalFlags: f.Flags(""), File: path, Remote: true}
			gomega.Expect(validateCmd.Run(ctx)).To(gomega.HaveOccurred())

			runCmd := &cmd.RunCmd{GlobalFlags: f.Flags(""), File: path}
			gomega.Expect(runCmd.Run(ctx)).To(gomega.HaveOccurred())
			gomega.Expect(f.Machines.Running()).To(gomega.BeEmpty())
		})
	})
})
