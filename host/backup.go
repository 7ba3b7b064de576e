package host

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// cbor encoding uses canonical mode so the same record set always produces
// the same backup bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("host: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// RecordBackup is the serialized form of one application's record set.
type RecordBackup struct {
	AppID   string            `cbor:"app_id"`
	SavedAt int64             `cbor:"saved_at"` // unix seconds
	Records map[string][]byte `cbor:"records"`
}

// ExportRecords snapshots every record under the application's prefix into
// a CBOR backup blob.
func ExportRecords(store RecordStore, appID string) ([]byte, error) {
	prefix := appID + "/"
	names, err := store.List(prefix)
	if err != nil {
		return nil, fmt.Errorf("exporting records for %s: %w", appID, err)
	}

	backup := RecordBackup{
		AppID:   appID,
		SavedAt: time.Now().Unix(),
		Records: make(map[string][]byte, len(names)),
	}
	for _, name := range names {
		value, err := store.Get(name)
		if err != nil {
			return nil, fmt.Errorf("exporting record %s: %w", name, err)
		}
		backup.Records[name] = value
	}

	return cborEncMode.Marshal(&backup)
}

// ImportRecords restores a backup blob into the store, replacing records
// with the same names.
func ImportRecords(store RecordStore, data []byte) (string, error) {
	var backup RecordBackup
	if err := cbor.Unmarshal(data, &backup); err != nil {
		return "", fmt.Errorf("decoding record backup: %w", err)
	}
	for name, value := range backup.Records {
		if err := store.Put(name, value); err != nil {
			return "", fmt.Errorf("importing record %s: %w", name, err)
		}
	}
	return backup.AppID, nil
}
