package cli

import (
	"context"
	"fmt"

	"github.com/danmuck/tvremote/internal/playout"
	"github.com/spf13/cobra"
)

type cgView struct {
	Connected bool   `json:"connected"`
	Enabled   bool   `json:"enabled"`
	Crawl     string `json:"crawl"`
	Logo      string `json:"logo"`
	Parental  string `json:"parental"`
}

func elementName(elements []playout.CGElement, id uint8) string {
	for _, el := range elements {
		if el.ID == id {
			return el.Name
		}
	}
	return fmt.Sprintf("#%d", id)
}

func viewCG(cg *playout.CGProxy) cgView {
	return cgView{
		Connected: cg.IsConnected(),
		Enabled:   cg.IsCGEnabled(),
		Crawl:     elementName(cg.Crawls(), cg.Crawl()),
		Logo:      elementName(cg.Logos(), cg.Logo()),
		Parental:  elementName(cg.Parentals(), cg.Parental()),
	}
}

func (v cgView) lines() []string {
	return []string{
		fmt.Sprintf("connected: %t", v.Connected),
		fmt.Sprintf("enabled:   %t", v.Enabled),
		fmt.Sprintf("crawl:     %s", v.Crawl),
		fmt.Sprintf("logo:      %s", v.Logo),
		fmt.Sprintf("parental:  %s", v.Parental),
	}
}

func NewCGCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cg",
		Short: "Show and drive the CG elements controller",
	}
	cmd.AddCommand(&cobra.Command{
		Use:          "show",
		Short:        "Show the current CG state",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withEngine(cmd.Context(), func(_ context.Context, engine *playout.EngineProxy) error {
				v := viewCG(engine.CG())
				return rootOpts.printer(cmd.OutOrStdout()).emit(v, v.lines()...)
			})
		},
	})
	cmd.AddCommand(newCGSetCommand(rootOpts))
	cmd.AddCommand(&cobra.Command{
		Use:          "clear",
		Short:        "Take every element off air",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withEngine(cmd.Context(), func(ctx context.Context, engine *playout.EngineProxy) error {
				callCtx, cancel := rootOpts.callCtx(ctx)
				defer cancel()
				if err := engine.CG().Clear(callCtx); err != nil {
					return remoteErr("cg clear", err)
				}
				return rootOpts.printer(cmd.OutOrStdout()).emit(map[string]bool{"cleared": true}, "cleared")
			})
		},
	})
	return cmd
}

func newCGSetCommand(rootOpts *RootOptions) *cobra.Command {
	var state playout.CGState
	cmd := &cobra.Command{
		Use:          "set",
		Short:        "Apply a whole CG state in one call",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withEngine(cmd.Context(), func(ctx context.Context, engine *playout.EngineProxy) error {
				cg := engine.CG()
				// Unset flags keep the current value.
				if !cmd.Flags().Changed("enabled") {
					state.IsCGEnabled = cg.IsCGEnabled()
				}
				if !cmd.Flags().Changed("crawl") {
					state.Crawl = cg.Crawl()
				}
				if !cmd.Flags().Changed("logo") {
					state.Logo = cg.Logo()
				}
				if !cmd.Flags().Changed("parental") {
					state.Parental = cg.Parental()
				}
				callCtx, cancel := rootOpts.callCtx(ctx)
				defer cancel()
				if err := cg.SetState(callCtx, state); err != nil {
					return remoteErr("cg set", err)
				}
				return rootOpts.printer(cmd.OutOrStdout()).emit(state, "applied")
			})
		},
	}
	cmd.Flags().BoolVar(&state.IsCGEnabled, "enabled", false, "CG output on")
	cmd.Flags().Uint8Var(&state.Crawl, "crawl", 0, "crawl element id")
	cmd.Flags().Uint8Var(&state.Logo, "logo", 0, "logo element id")
	cmd.Flags().Uint8Var(&state.Parental, "parental", 0, "parental rating element id")
	return cmd
}
