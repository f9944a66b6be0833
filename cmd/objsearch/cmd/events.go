package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/reefdata/objsearch/internal/events"
	"github.com/reefdata/objsearch/internal/events/sqlite"
)

// newEventsCmd creates the events command group.
func newEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect and manage the event queue",
	}
	cmd.AddCommand(newEventsListCmd())
	cmd.AddCommand(newEventsAddCmd())
	cmd.AddCommand(newEventsResetFailedCmd())
	return cmd
}

func newEventsListCmd() *cobra.Command {
	var (
		stateName string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued events by state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			state, err := events.ParseState(stateName)
			if err != nil {
				return err
			}
			cfg, cleanup, err := loadConfig()
			if err != nil {
				return err
			}
			defer cleanup()

			store, err := sqlite.Open(cfg.Events.Path)
			if err != nil {
				return fmt.Errorf("opening event store: %w", err)
			}
			defer store.Close()

			evs, err := store.GetByState(cmd.Context(), state, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, ev := range evs {
				fmt.Fprintf(out, "%s\t%s\t%s\t%s\t%s",
					ev.EventID(), ev.State(), ev.Event().Type(),
					ev.Event().GUID(),
					ev.Event().Timestamp().Format(time.RFC3339))
				if ev.ErrorCode() != "" {
					fmt.Fprintf(out, "\t[%s] %s", ev.ErrorCode(), ev.ErrorMessage())
				}
				fmt.Fprintln(out)
			}
			fmt.Fprintf(out, "%d events in state %s\n", len(evs), state)
			return nil
		},
	}
	cmd.Flags().StringVarP(&stateName, "state", "s", "UNPROC",
		"Event state (UNPROC, READY, PROC, INDX, UNINDX, FAIL)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "Maximum events to list")
	return cmd
}

func newEventsAddCmd() *cobra.Command {
	var (
		typeName    string
		storageCode string
		storageType string
		group       int
		objectID    string
		objVersion  int
		newName     string
		isPublic    bool
		overwrite   bool
		codes       []string
		ready       bool
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Enqueue an object change event",
		Long: `Enqueue an object change event for the worker to process.
Events are stored READY by default; pass --ready=false to stage an event a
separate coordinator will release later.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			evType, err := events.ParseEventType(typeName)
			if err != nil {
				return err
			}
			cfg, cleanup, err := loadConfig()
			if err != nil {
				return err
			}
			defer cleanup()

			ev, err := events.NewStatusEvent(events.StatusEventConfig{
				Type:              evType,
				StorageCode:       storageCode,
				StorageType:       storageType,
				Timestamp:         time.Now().UTC(),
				AccessGroupID:     group,
				ObjectID:          objectID,
				Version:           objVersion,
				NewName:           newName,
				IsPublic:          isPublic,
				OverwriteExisting: overwrite,
			})
			if err != nil {
				return err
			}

			store, err := sqlite.Open(cfg.Events.Path)
			if err != nil {
				return fmt.Errorf("opening event store: %w", err)
			}
			defer store.Close()

			state := events.StateReady
			if !ready {
				state = events.StateUnprocessed
			}
			stored, err := store.Store(cmd.Context(), ev, state, codes, "objsearch-cli")
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored event %s in state %s\n",
				stored.EventID(), stored.State())
			return nil
		},
	}
	cmd.Flags().StringVarP(&typeName, "type", "t", "NEW_VERSION",
		"Event type (NEW_VERSION, DELETE_ALL_VERSIONS, ...)")
	cmd.Flags().StringVar(&storageCode, "storage-code", "", "Source storage code")
	cmd.Flags().StringVar(&storageType, "storage-type", "", "Storage object type, if known")
	cmd.Flags().IntVarP(&group, "group", "g", 0, "Access group id")
	cmd.Flags().StringVarP(&objectID, "object", "o", "", "Object id within the group")
	cmd.Flags().IntVar(&objVersion, "version", 0, "Object version, 0 for latest")
	cmd.Flags().StringVar(&newName, "new-name", "", "New object name for RENAME events")
	cmd.Flags().BoolVar(&isPublic, "public", false, "Object is publicly visible")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Reindex even if already indexed")
	cmd.Flags().StringSliceVar(&codes, "codes", nil, "Worker codes; empty means default")
	cmd.Flags().BoolVar(&ready, "ready", true, "Store the event READY for immediate pickup")
	_ = cmd.MarkFlagRequired("storage-code")
	return cmd
}

func newEventsResetFailedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-failed",
		Short: "Requeue all failed events",
		Long: `Move every FAIL event back to UNPROC so it can be released and
retried, typically after fixing the condition that failed it.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, cleanup, err := loadConfig()
			if err != nil {
				return err
			}
			defer cleanup()

			store, err := sqlite.Open(cfg.Events.Path)
			if err != nil {
				return fmt.Errorf("opening event store: %w", err)
			}
			defer store.Close()

			if err := store.ResetFailed(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "failed events requeued")
			return nil
		},
	}
}
