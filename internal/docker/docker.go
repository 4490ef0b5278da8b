// Package docker pulls forked images through the local Docker daemon.
package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/distribution/reference"
	"github.com/moby/moby/client"
)

// engine is the slice of the Docker API this package needs.
type engine interface {
	pull(ctx context.Context, ref string) (io.ReadCloser, error)
	tag(ctx context.Context, source, target string) error
	Close() error
}

// Client pulls images and retags them under their public name.
type Client struct {
	engine engine
	logger *slog.Logger
}

// NewClient connects to the daemon configured by DOCKER_HOST and friends.
func NewClient(logger *slog.Logger) (*Client, error) {
	cli, err := client.New(client.FromEnv)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Client{engine: mobyEngine{cli: cli}, logger: logger}, nil
}

// Close releases the daemon connection.
func (c *Client) Close() error {
	return c.engine.Close()
}

// PullAndTag pulls image and tags it as localName, so a private mirror of
// ubuntu:20.04 is usable locally as ubuntu:20.04.
func (c *Client) PullAndTag(ctx context.Context, image, localName string) error {
	pullRef, err := reference.ParseNormalizedNamed(image)
	if err != nil {
		return fmt.Errorf("invalid image %q: %w", image, err)
	}
	tagRef, err := reference.ParseNormalizedNamed(localName)
	if err != nil {
		return fmt.Errorf("invalid local name %q: %w", localName, err)
	}
	pullName := reference.TagNameOnly(pullRef).String()
	tagName := reference.FamiliarString(reference.TagNameOnly(tagRef))

	c.logger.Info("pulling image", "image", pullName)
	progress, err := c.engine.pull(ctx, pullName)
	if err != nil {
		return fmt.Errorf("pulling %s: %w", pullName, err)
	}
	// The pull only completes once the progress stream is drained.
	_, copyErr := io.Copy(io.Discard, progress)
	closeErr := progress.Close()
	if copyErr != nil {
		return fmt.Errorf("pulling %s: %w", pullName, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("pulling %s: %w", pullName, closeErr)
	}

	if err := c.engine.tag(ctx, pullName, tagName); err != nil {
		return fmt.Errorf("tagging %s as %s: %w", pullName, tagName, err)
	}
	c.logger.Info("image tagged", "image", pullName, "tag", tagName)
	return nil
}

type mobyEngine struct {
	cli *client.Client
}

func (e mobyEngine) pull(ctx context.Context, ref string) (io.ReadCloser, error) {
	return e.cli.ImagePull(ctx, ref, client.ImagePullOptions{})
}

func (e mobyEngine) tag(ctx context.Context, source, target string) error {
	_, err := e.cli.ImageTag(ctx, client.ImageTagOptions{Source: source, Target: target})
	return err
}

func (e mobyEngine) Close() error {
	return e.cli.Close()
}
