package email

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/emersion/go-imap/v2"

	"github.com/nhle/mailsweep/internal/apperr"
)

// External ids are "imap:<uidvalidity>:<uid>". UIDs are only unique within
// one UIDVALIDITY generation of a mailbox.
const idPrefix = "imap:"

func formatID(uidValidity uint32, uid imap.UID) string {
	return fmt.Sprintf("%s%d:%d", idPrefix, uidValidity, uid)
}

func parseID(id string) (uint32, imap.UID, error) {
	rest, ok := strings.CutPrefix(id, idPrefix)
	if !ok {
		return 0, 0, invalidID(id, nil)
	}
	validityStr, uidStr, ok := strings.Cut(rest, ":")
	if !ok {
		return 0, 0, invalidID(id, nil)
	}

	validity, err := strconv.ParseUint(validityStr, 10, 32)
	if err != nil {
		return 0, 0, invalidID(id, err)
	}
	uid, err := strconv.ParseUint(uidStr, 10, 32)
	if err != nil || uid == 0 {
		return 0, 0, invalidID(id, err)
	}
	return uint32(validity), imap.UID(uid), nil
}

func invalidID(id string, err error) error {
	return apperr.Wrap(apperr.KindFormat, "imap.parseID", fmt.Sprintf("invalid IMAP message id %q", id), err)
}
