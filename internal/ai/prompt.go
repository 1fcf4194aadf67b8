package ai

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jaytaylor/html2text"

	"github.com/nhle/mailsweep/internal/model"
)

const (
	maxSubjectChars = 200
	maxSenderChars  = 200
)

const classifySystem = "You sort incoming email into the user's categories. " +
	"Reply with a single JSON object and nothing else: " +
	`{"categoryId": "<id of the best category, or null>", "confidence": <number from 0 to 1>, "reasoning": "<one sentence>"}. ` +
	"Use only ids from the list you are given."

const summarizeSystem = "You summarize email for a busy reader. " +
	"Reply with two or three plain sentences covering who sent it, what it is about " +
	"and whether anything is required of the reader. Do not use markdown."

// classifyPrompt renders the message and candidate categories.
func classifyPrompt(msg *model.Message, categories []model.Category, bodyPrefix int) string {
	var sb strings.Builder
	sb.WriteString("Categories:\n")
	for _, c := range categories {
		fmt.Fprintf(&sb, "- id: %s\n  name: %s\n", c.ID, c.Name)
		if c.Description != "" {
			fmt.Fprintf(&sb, "  description: %s\n", c.Description)
		}
	}
	sb.WriteString("\n")
	writeMessage(&sb, msg, bodyPrefix)
	return sb.String()
}

func summaryPrompt(msg *model.Message, bodyPrefix int) string {
	var sb strings.Builder
	writeMessage(&sb, msg, bodyPrefix)
	return sb.String()
}

func writeMessage(sb *strings.Builder, msg *model.Message, bodyPrefix int) {
	fmt.Fprintf(sb, "From: %s\n", prefix(msg.Sender, maxSenderChars))
	fmt.Fprintf(sb, "Subject: %s\n\n", prefix(msg.Subject, maxSubjectChars))
	sb.WriteString(prefix(plainText(msg.Body), bodyPrefix))
}

// plainText strips markup so the prefix holds readable content.
func plainText(body string) string {
	if !strings.Contains(body, "<") {
		return body
	}
	text, err := html2text.FromString(body, html2text.Options{OmitLinks: true, TextOnly: true})
	if err != nil {
		return body
	}
	return text
}

// prefix returns at most n runes of s.
func prefix(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// classifyReply is the JSON object the model is asked for.
type classifyReply struct {
	CategoryID *string  `json:"categoryId"`
	Confidence *float64 `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
}

// parseClassifyReply extracts the JSON object from a reply, tolerating
// code fences or prose around it.
func parseClassifyReply(text string) (classifyReply, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return classifyReply{}, fmt.Errorf("no JSON object in reply")
	}

	var reply classifyReply
	if err := json.Unmarshal([]byte(text[start:end+1]), &reply); err != nil {
		return classifyReply{}, fmt.Errorf("decoding reply: %w", err)
	}
	if reply.Confidence == nil {
		return classifyReply{}, fmt.Errorf("reply has no confidence")
	}
	if c := *reply.Confidence; c < 0 || c > 1 {
		return classifyReply{}, fmt.Errorf("confidence %v out of range", c)
	}
	return reply, nil
}
