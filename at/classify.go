package at

import (
	"bufio"
	"bytes"
	"strings"
)

// Splitter is used for tokenizing the text part of a module response. It uses
// the signature of bufio.SplitFunc so it can be directly used with bufio.Scanner.
//
// It splits the input by LF line endings, drops the CR in front of them and
// also recognizes the CIPSEND input prompt (">") at the start of a line. Echoed
// commands end with "\r\r\n" on ESP-AT firmware; both CRs are dropped.
//
// The atEOF parameter indicates whether any more data will be available.
// When true, any remaining data is returned as the final token.
func Splitter(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	// 1. Match CIPSEND prompt
	if bytes.HasPrefix(data, []byte(Prompt)) {
		return len(Prompt), data[0:len(Prompt)], nil
	}

	// 2. Match line ending
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, bytes.TrimRight(data[0:i], "\r"), nil
	}

	if atEOF {
		return len(data), bytes.TrimRight(data, "\r"), nil
	}
	return 0, nil, nil
}

var _ bufio.SplitFunc = Splitter

// Lines splits a response payload into its non-empty lines.
func Lines(payload []byte) []string {
	scanner := bufio.NewScanner(bytes.NewReader(payload))
	scanner.Buffer(make([]byte, 0, 256), MaxNotificationLen)
	scanner.Split(Splitter)

	var lines []string
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// Classify identifies the nature of one line of module output.
func Classify(line string) ResponseType {
	if line == Prompt {
		return TypePrompt
	}

	// Direct matches for final results
	switch line {
	case OK, ERROR, FAIL, SendOK, SendFail, Ready:
		return TypeFinal
	case ReportWifiConnected, ReportWifiGotIP, ReportWifiDisconnected, ReportClosed, ReportConnect:
		return TypeReport
	}

	// Prefix matches
	switch {
	case strings.HasPrefix(line, ReportBusy):
		return TypeReport
	case isLinkReport(line):
		return TypeReport
	default:
		return TypeData
	}
}

// isLinkReport matches the multi-connection forms "<id>,CONNECT" and
// "<id>,CLOSED".
func isLinkReport(line string) bool {
	id, event, ok := strings.Cut(line, ",")
	if !ok || id == "" {
		return false
	}
	for _, c := range id {
		if c < '0' || c > '9' {
			return false
		}
	}
	return event == ReportConnect || event == ReportClosed || event == "CONNECT FAIL"
}
