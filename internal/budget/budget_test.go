// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package budget

import (
	"errors"
	"strings"
	"testing"

	"github.com/digo9606/Notate-sub000/chat"
	"github.com/digo9606/Notate-sub000/provider"
)

func alternating(turns int) []chat.Message {
	msgs := make([]chat.Message, 0, turns)
	for i := 0; i < turns; i++ {
		if i%2 == 0 {
			msgs = append(msgs, chat.NewUserMessage(strings.Repeat("question ", 20)))
		} else {
			msgs = append(msgs, chat.NewAssistantMessage(strings.Repeat("answer ", 20)))
		}
	}
	return msgs
}

func TestTruncateIdentityUnderBudget(t *testing.T) {
	msgs := alternating(5)
	out, err := Truncate(msgs, "prompt", 1000, 100000, provider.Capabilities{})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != len(msgs) {
		t.Fatalf("under-budget input was modified: %d -> %d", len(msgs), len(out))
	}
	for i := range msgs {
		if out[i].ID != msgs[i].ID {
			t.Fatalf("message %d changed", i)
		}
	}
}

func TestTruncateIdempotent(t *testing.T) {
	msgs := alternating(21)
	once, err := Truncate(msgs, "", 1000, 800, provider.Capabilities{})
	if err != nil {
		t.Fatal(err)
	}
	twice, err := Truncate(once, "", 1000, 800, provider.Capabilities{})
	if err != nil {
		t.Fatal(err)
	}
	if len(twice) != len(once) {
		t.Fatalf("second pass changed length: %d -> %d", len(once), len(twice))
	}
}

func TestTruncatePopsFromFront(t *testing.T) {
	msgs := alternating(21)
	out, err := Truncate(msgs, "", 1000, 800, provider.Capabilities{})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) >= len(msgs) {
		t.Fatal("over-budget input was not trimmed")
	}
	// Survivors must be the newest suffix.
	offset := len(msgs) - len(out)
	for i := range out {
		if out[i].ID != msgs[offset+i].ID {
			t.Fatalf("survivor %d is not from the tail", i)
		}
	}
}

func TestTruncateTailPattern(t *testing.T) {
	msgs := alternating(21)
	out, err := Truncate(msgs, "", 1000, 800, provider.Capabilities{})
	if err != nil {
		t.Fatal(err)
	}
	n := len(out)
	if n < 3 {
		t.Fatalf("trimmed below floor: %d", n)
	}
	if out[n-3].Role != chat.RoleUser || out[n-2].Role != chat.RoleAssistant || out[n-1].Role != chat.RoleUser {
		t.Errorf("tail roles = %s/%s/%s", out[n-3].Role, out[n-2].Role, out[n-1].Role)
	}
}

func TestTruncateNeverBelowThree(t *testing.T) {
	msgs := alternating(5)
	// Budget far too small for even one message.
	out, err := Truncate(msgs, "", 10, 20, provider.Capabilities{})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 {
		t.Fatalf("len = %d, want floor of 3", len(out))
	}
}

func TestTruncateSingleMessagePassThrough(t *testing.T) {
	msgs := []chat.Message{chat.NewUserMessage(strings.Repeat("x", 100000))}
	out, err := Truncate(msgs, "", 100, 200, provider.Capabilities{})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].ID != msgs[0].ID {
		t.Fatal("single-message conversation must pass through whole")
	}
}

func TestTruncateDropsLeadingNonUser(t *testing.T) {
	msgs := append([]chat.Message{chat.NewAssistantMessage("greeting")}, alternating(5)...)
	out, err := Truncate(msgs, "", 1000, 100000, provider.Capabilities{RequiresUserFirst: true})
	if err != nil {
		t.Fatal(err)
	}
	if out[0].Role != chat.RoleUser {
		t.Errorf("first role = %s, want user", out[0].Role)
	}
}

func TestTruncateInvalidPattern(t *testing.T) {
	msgs := []chat.Message{
		chat.NewUserMessage("a"),
		chat.NewUserMessage("b"),
		chat.NewUserMessage("c"),
	}
	_, err := Truncate(msgs, "", 1000, 100000, provider.Capabilities{RequiresUserFirst: true})
	if !errors.Is(err, ErrInvalidMessagePattern) {
		t.Fatalf("expected ErrInvalidMessagePattern, got %v", err)
	}
}
