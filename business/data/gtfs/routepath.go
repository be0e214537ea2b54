package gtfs

import "github.com/jmoiron/sqlx"

// RoutePathPoint contains one point of a route's physical path, derived from the gtfs
// shapes.txt file of the route's representative trip. A route may have no path at all,
// in which case positions fall back to straight lines between stops.
type RoutePathPoint struct {
	DataSetId  int64   `db:"data_set_id" json:"data_set_id"`
	RouteId    string  `db:"route_id" json:"route_id"`
	PtSequence int     `db:"pt_sequence" json:"pt_sequence"`
	PtLat      float64 `db:"pt_lat" json:"pt_lat"`
	PtLon      float64 `db:"pt_lon" json:"pt_lon"`
}

// RecordRoutePathPoints saves route path points to database in a batch
func RecordRoutePathPoints(points []*RoutePathPoint, dsTx *DataSetTransaction) error {
	for _, point := range points {
		point.DataSetId = dsTx.DS.Id
	}
	statementString := "insert into route_path_point ( " +
		"data_set_id, " +
		"route_id, " +
		"pt_sequence, " +
		"pt_lat, " +
		"pt_lon) " +
		"values (" +
		":data_set_id, " +
		":route_id, " +
		":pt_sequence, " +
		":pt_lat, " +
		":pt_lon)"
	statementString = dsTx.Tx.Rebind(statementString)
	_, err := dsTx.Tx.NamedExec(statementString, points)
	return err
}

// GetRoutePathPoints retrieves all route path points for dataSetId ordered along each path
func GetRoutePathPoints(db *sqlx.DB, dataSetId int64) ([]*RoutePathPoint, error) {
	query := "select * from route_path_point where data_set_id = $1 order by route_id, pt_sequence"
	var results []*RoutePathPoint
	err := db.Select(&results, db.Rebind(query), dataSetId)
	return results, err
}
