package session

import (
	"errors"
	"fmt"

	"github.com/danmuck/edgefetch/internal/fetch"
	"github.com/danmuck/edgefetch/internal/protocol/frame"
)

// Client-visible text. Clients display these verbatim.
const (
	MenuText = "\n--- DOWNLOAD MANAGER SERVER ---\n" +
		"1. Download Image\n2. Download Video\n3. Download Audio\n" +
		"4. Download PDF\n5. Download ZIP\n6. Exit\n" +
		"Enter choice: "
	DirectoryPrompt   = "Enter directory (blank for default): "
	FilenamePrompt    = "Enter filename: "
	GoodbyeText       = "Goodbye! Disconnecting.\n"
	InvalidChoiceText = "Invalid choice."

	ChecksumErrorText = "ERROR: CRC32 Mismatch! Data Corrupted."
	ParityErrorText   = "ERROR: 2D Parity Check Failed! Data Corrupted."
	PacketErrorText   = "Packet Error"

	ExitChoice = "6"
)

// URLPrompt returns the first collection prompt for spec.
func URLPrompt(spec fetch.Spec) string {
	return fmt.Sprintf("Enter %s URL: ", spec.Prompt)
}

// CorruptionText maps a verification failure to its client message.
func CorruptionText(err error) string {
	switch {
	case errors.Is(err, frame.ErrChecksumMismatch):
		return ChecksumErrorText
	case errors.Is(err, frame.ErrParityMismatch):
		return ParityErrorText
	case errors.Is(err, frame.ErrInvalidText):
		return PacketErrorText
	default:
		return PacketErrorText
	}
}

// RetryText wraps a corruption message received at the menu.
func RetryText(err error) string {
	return fmt.Sprintf("\n[SERVER] %s -> Please Try Again.\n", CorruptionText(err))
}
