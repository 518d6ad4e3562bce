package main

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/spf13/cobra"

	"github.com/drblury/fluxbridge"
	loggingpkg "github.com/drblury/fluxbridge/internal/runtime/logging"
)

const maxPayloadSize = 16 << 20

type publishOptions struct {
	topic    string
	metadata []string
}

func newPublishCmd(root *rootOptions) *cobra.Command {
	opts := &publishOptions{}

	cmd := &cobra.Command{
		Use:   "publish [file...]",
		Short: "Publish JSON lines to the configured source",
		Long:  `Publish every non-blank line of the given files, or of stdin, as one payload to the source topic. Useful to feed a bridge in tests and demos.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			md, err := fluxbridge.ParseMetadata(opts.metadata)
			if err != nil {
				return err
			}
			topic := opts.topic
			if topic == "" {
				topic = cfg.GetTopic()
			}

			tr, err := fluxbridge.BuildTransport(cmd.Context(), cfg, loggingpkg.NewWatermillAdapter(logger))
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := tr.Close(); closeErr != nil {
					logger.Error("Failed to close transport", closeErr, nil)
				}
			}()
			if tr.Publisher == nil {
				return fmt.Errorf("source %q cannot publish", cfg.GetSource())
			}

			p := &payloadPublisher{publisher: tr.Publisher, topic: topic, metadata: md}
			if len(args) == 0 {
				err = p.publishLines(cmd.InOrStdin())
			} else {
				err = p.publishFiles(args)
			}

			logger.Info("Published payloads", loggingpkg.LogFields{"topic": topic, "count": p.count})
			fmt.Fprintf(cmd.OutOrStdout(), "published %d payloads to %s\n", p.count, topic)
			return err
		},
	}
	cmd.Flags().StringVarP(&opts.topic, "topic", "t", "", "topic to publish to (defaults to the configured topic)")
	cmd.Flags().StringArrayVarP(&opts.metadata, "metadata", "m", nil, "key=value header added to every payload, repeatable")
	return cmd
}

type payloadPublisher struct {
	publisher message.Publisher
	topic     string
	metadata  fluxbridge.Metadata
	count     int
}

func (p *payloadPublisher) publishFiles(paths []string) error {
	for _, path := range paths {
		if err := p.publishFile(path); err != nil {
			return err
		}
	}
	return nil
}

func (p *payloadPublisher) publishFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := p.publishLines(f); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func (p *payloadPublisher) publishLines(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxPayloadSize)

	line := 0
	for scanner.Scan() {
		line++
		payload := bytes.TrimSpace(scanner.Bytes())
		if len(payload) == 0 {
			continue
		}
		msg := message.NewMessage(fluxbridge.CreateULID(), bytes.Clone(payload))
		p.metadata.Apply(msg)
		if err := p.publisher.Publish(p.topic, msg); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		p.count++
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return fmt.Errorf("line %d: payload exceeds %d bytes", line+1, maxPayloadSize)
		}
		return err
	}
	return nil
}
