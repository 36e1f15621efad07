package document

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorMatchesByKind(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("create: %w", &Error{Kind: KindMetadataCommitFailed, Op: "CreateDocument", Path: "k/1/v.pdf", Err: cause})

	require.ErrorIs(t, err, ErrMetadataCommitFailed)
	require.ErrorIs(t, err, cause)
	require.NotErrorIs(t, err, ErrContentWriteFailed)
	require.Equal(t, KindMetadataCommitFailed, KindOf(err))
	require.Equal(t, Kind(""), KindOf(cause))
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Kind: KindContentInconsistency, Op: "DownloadBlob", VersionID: "ver-1", Path: "k/1/v.pdf", Msg: "blob missing"}
	require.Equal(t, "DownloadBlob: content_inconsistency: blob missing (version ver-1) (path k/1/v.pdf)", err.Error())

	v := Validationf("CreateDocument", "unknown document type %q", "Uredba")
	require.ErrorIs(t, v, ErrValidation)
	require.Equal(t, `CreateDocument: validation: unknown document type "Uredba"`, v.Error())
}
