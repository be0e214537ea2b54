package gtfs

import "github.com/jmoiron/sqlx"

// Trip contains data from a gtfs trip definition in a trips.txt file.
// StartTime and EndTime are denormalized from the trip's first departure and last arrival
// so active trips can be selected without loading every stop time.
type Trip struct {
	DataSetId    int64   `db:"data_set_id" json:"data_set_id"`
	TripId       string  `db:"trip_id" json:"trip_id"`
	RouteId      string  `db:"route_id" json:"route_id"`
	ServiceId    string  `db:"service_id" json:"service_id"`
	TripHeadsign *string `db:"trip_headsign" json:"trip_headsign"`
	StartTime    int     `db:"start_time" json:"start_time"`
	EndTime      int     `db:"end_time" json:"end_time"`
}

// RecordTrips saves trips to database in batch
func RecordTrips(trips []*Trip, dsTx *DataSetTransaction) error {
	for _, trip := range trips {
		trip.DataSetId = dsTx.DS.Id
	}
	statementString := "insert into trip ( " +
		"data_set_id, " +
		"trip_id, " +
		"route_id, " +
		"service_id, " +
		"trip_headsign, " +
		"start_time, " +
		"end_time) " +
		"values (" +
		":data_set_id, " +
		":trip_id, " +
		":route_id, " +
		":service_id, " +
		":trip_headsign, " +
		":start_time, " +
		":end_time)"
	statementString = dsTx.Tx.Rebind(statementString)
	_, err := dsTx.Tx.NamedExec(statementString, trips)
	return err
}

// GetTrips retrieves all trips for dataSetId
func GetTrips(db *sqlx.DB, dataSetId int64) ([]*Trip, error) {
	query := "select * from trip where data_set_id = $1 order by trip_id"
	var results []*Trip
	err := db.Select(&results, db.Rebind(query), dataSetId)
	return results, err
}
