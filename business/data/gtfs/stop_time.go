package gtfs

import "github.com/jmoiron/sqlx"

// StopTime contains a record from a gtfs stop_times.txt file,
// a scheduled arrival and departure at a stop.
// Times are seconds since local midnight and may exceed 86,400 for trips running past midnight.
type StopTime struct {
	DataSetId     int64  `db:"data_set_id" json:"data_set_id"`
	TripId        string `db:"trip_id" json:"trip_id"`
	StopSequence  uint32 `db:"stop_sequence" json:"stop_sequence"`
	StopId        string `db:"stop_id" json:"stop_id"`
	ArrivalTime   int    `db:"arrival_time" json:"arrival_time"`
	DepartureTime int    `db:"departure_time" json:"departure_time"`
}

// RecordStopTimes saves stopTimes to database in batch
func RecordStopTimes(stopTimes []*StopTime, dsTx *DataSetTransaction) error {
	for _, stopTime := range stopTimes {
		stopTime.DataSetId = dsTx.DS.Id
	}
	statementString := "insert into stop_time ( " +
		"data_set_id, " +
		"trip_id, " +
		"stop_sequence, " +
		"stop_id, " +
		"arrival_time, " +
		"departure_time) " +
		"values (" +
		":data_set_id, " +
		":trip_id, " +
		":stop_sequence, " +
		":stop_id, " +
		":arrival_time, " +
		":departure_time)"
	statementString = dsTx.Tx.Rebind(statementString)
	_, err := dsTx.Tx.NamedExec(statementString, stopTimes)
	return err
}

// GetStopTimes retrieves all stop times for dataSetId ordered by trip and stop sequence
func GetStopTimes(db *sqlx.DB, dataSetId int64) ([]*StopTime, error) {
	query := "select * from stop_time where data_set_id = $1 order by trip_id, stop_sequence"
	var results []*StopTime
	err := db.Select(&results, db.Rebind(query), dataSetId)
	return results, err
}
