// Package gtfs provides gtfs schedule entities, their postgres persistence, and the
// in-memory Schedule snapshot the position estimation pipeline reads from.
package gtfs

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// DataSet encompasses a gtfs schedule loaded from a source at a point in time.
// The same source will be loaded over time.
// Each record from a gtfs file shares the DataSet.Id value as part of the primary key.
type DataSet struct {
	Id           int64
	Source       string
	DownloadedAt time.Time  `db:"downloaded_at"`
	SavedAt      *time.Time `db:"saved_at"`
}

// DataSetTransaction contains required data for recording new gtfs records owned by a DataSet
type DataSetTransaction struct {
	DS DataSet
	Tx *sqlx.Tx
}

func (d DataSet) String() string {
	saved := ""
	if d.SavedAt != nil {
		saved = d.SavedAt.Format("2006-01-02T15:04:05")
	}
	return fmt.Sprintf("DataSet Id:%d, source:%s, downloaded:%s savedAt:%s",
		d.Id, d.Source, d.DownloadedAt.Format("2006-01-02T15:04:05"), saved)
}

// SaveDataSet saves new or updates existing DataSets. Existing records are determined by a non-zero DataSet.Id
func SaveDataSet(tx *sqlx.Tx, ds *DataSet) error {
	statementString := "insert into data_set ( " +
		"source, " +
		"downloaded_at, " +
		"saved_at) " +
		"values (" +
		":source, " +
		":downloaded_at, " +
		":saved_at)"
	if ds.Id != 0 {
		statementString = "update data_set set " +
			"source = :source, " +
			"downloaded_at = :downloaded_at, " +
			"saved_at = :saved_at " +
			"where id = :id"
	}
	statementString = tx.Rebind(statementString)
	_, err := tx.NamedExec(statementString, ds)
	if err != nil {
		return err
	}
	if ds.Id == 0 {
		statementString = tx.Rebind("select id from data_set " +
			"where source = ? and downloaded_at = ? limit 1")
		err = tx.Get(&ds.Id, statementString, ds.Source, ds.DownloadedAt)
	}
	return err
}

// GetLatestSavedDataSet retrieves the latest DataSet with a saved_at date
func GetLatestSavedDataSet(db *sqlx.DB) (*DataSet, error) {
	query := "select * from data_set where saved_at is not null order by saved_at desc, downloaded_at desc limit 1"
	ds := DataSet{}
	err := db.Get(&ds, query)
	return &ds, err
}
