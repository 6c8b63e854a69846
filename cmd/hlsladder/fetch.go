package main

import (
	"context"
	"fmt"
	"os"

	"github.com/andesco/hlsladder/pkg/client"
	"github.com/andesco/hlsladder/pkg/playlist"

	"github.com/hashicorp/go-hclog"
)

func fetch(ctx context.Context, server, playlistPath, headersPath, output string, logger hclog.Logger) error {
	playlistText, err := os.ReadFile(playlistPath)
	if err != nil {
		return fmt.Errorf("failed to read playlist: %w", err)
	}
	headerText, err := os.ReadFile(headersPath)
	if err != nil {
		return fmt.Errorf("failed to read headers: %w", err)
	}

	form := playlist.FormInput{
		PlaylistFile: string(playlistText),
		Headers:      string(headerText),
	}

	c := client.New(server, logger.Named("client"))
	c.ResetAfter = 0

	return download(ctx, c, form, output)
}

// download writes to output and removes it again if the download fails, so
// a partial file is never left behind.
func download(ctx context.Context, c *client.Client, form playlist.FormInput, output string) error {
	out, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}

	n, err := c.Submit(ctx, form, out)
	if cerr := out.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close output: %w", cerr)
	}
	if err != nil {
		os.Remove(output)
		return err
	}

	fmt.Printf("Saved %d bytes to %s\n", n, output)
	return nil
}
