package main

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "upnext-karaoke",
		Short:        "Karaoke party server with a shared song queue",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config.yml")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the http and websocket server",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServer(configPath)
			},
		},
		newPlaylistsCmd(&configPath),
	)
	return root
}

func newPlaylistsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "playlists",
		Short: "Inspect saved playlists",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List saved playlists",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withPlaylistRepository(*configPath, func(repo PlaylistRepository) error {
					list, err := repo.ListPlaylists()
					if err != nil {
						return err
					}
					renderPlaylists(cmd.OutOrStdout(), list)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "show <name>",
			Short: "Show the songs of a playlist",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withPlaylistRepository(*configPath, func(repo PlaylistRepository) error {
					p, err := repo.LoadPlaylist(args[0])
					if err != nil {
						return fmt.Errorf("%s: %w", args[0], err)
					}
					renderPlaylist(cmd.OutOrStdout(), p)
					return nil
				})
			},
		},
	)
	return cmd
}

func withPlaylistRepository(configPath string, fn func(PlaylistRepository) error) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	repo, err := OpenPlaylistRepository(cfg.Database.URL)
	if err != nil {
		return err
	}
	defer repo.close()
	return fn(repo)
}

func renderPlaylists(w io.Writer, list []PlaylistSummary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Name", "Songs", "Updated"})
	for _, p := range list {
		t.AppendRow(table.Row{p.Name, p.Count, formatMillis(p.UpdatedAt)})
	}
	t.Render()
}

func renderPlaylist(w io.Writer, p *Playlist) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle(p.Name)
	t.AppendHeader(table.Row{"#", "Title", "Artist", "Duration", "Added by"})
	for i, s := range p.Songs {
		t.AppendRow(table.Row{i + 1, s.Title, s.Artist, formatDuration(s.Duration), s.AddedBy})
	}
	t.Render()
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).Format("2006-01-02 15:04")
}

func formatDuration(seconds int64) string {
	if seconds <= 0 {
		return "-"
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
