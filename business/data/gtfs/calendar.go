package gtfs

import (
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rickar/cal/v2"
	"github.com/rickar/cal/v2/fr"
)

// Calendar contains data from a record in a gtfs calendar.txt file
type Calendar struct {
	DataSetId int64  `db:"data_set_id"`
	ServiceId string `db:"service_id"`
	Monday    int
	Tuesday   int
	Wednesday int
	Thursday  int
	Friday    int
	Saturday  int
	Sunday    int
	StartDate time.Time `db:"start_date"`
	EndDate   time.Time `db:"end_date"`
}

// CalendarDate contains data from a record in a gtfs calendar_dates.txt file
type CalendarDate struct {
	DataSetId     int64  `db:"data_set_id"`
	ServiceId     string `db:"service_id"`
	Date          time.Time
	ExceptionType int `db:"exception_type"`
}

// RecordCalendars saves calendars to database in batch
func RecordCalendars(calendars []*Calendar, dsTx *DataSetTransaction) error {
	for _, calendar := range calendars {
		calendar.DataSetId = dsTx.DS.Id
	}
	statementString := "insert into calendar ( " +
		"data_set_id, " +
		"service_id, " +
		"monday, " +
		"tuesday, " +
		"wednesday, " +
		"thursday, " +
		"friday, " +
		"saturday, " +
		"sunday, " +
		"start_date, " +
		"end_date) " +
		"values (" +
		":data_set_id, " +
		":service_id, " +
		":monday, " +
		":tuesday, " +
		":wednesday, " +
		":thursday, " +
		":friday, " +
		":saturday, " +
		":sunday, " +
		":start_date, " +
		":end_date)"
	statementString = dsTx.Tx.Rebind(statementString)
	_, err := dsTx.Tx.NamedExec(statementString, calendars)
	return err
}

// RecordCalendarDates saves calendar dates to database in batch
func RecordCalendarDates(calendarDates []*CalendarDate, dsTx *DataSetTransaction) error {
	for _, calendarDate := range calendarDates {
		calendarDate.DataSetId = dsTx.DS.Id
	}
	statementString := "insert into calendar_date ( " +
		"data_set_id, " +
		"service_id, " +
		"date, " +
		"exception_type) " +
		"values (" +
		":data_set_id, " +
		":service_id, " +
		":date, " +
		":exception_type)"
	statementString = dsTx.Tx.Rebind(statementString)
	_, err := dsTx.Tx.NamedExec(statementString, calendarDates)
	return err
}

// GetCalendars retrieves all calendars for dataSetId
func GetCalendars(db *sqlx.DB, dataSetId int64) ([]*Calendar, error) {
	query := "select * from calendar where data_set_id = $1"
	var results []*Calendar
	err := db.Select(&results, db.Rebind(query), dataSetId)
	return results, err
}

// GetCalendarDates retrieves all calendar dates for dataSetId
func GetCalendarDates(db *sqlx.DB, dataSetId int64) ([]*CalendarDate, error) {
	query := "select * from calendar_date where data_set_id = $1"
	var results []*CalendarDate
	err := db.Select(&results, db.Rebind(query), dataSetId)
	return results, err
}

// holidayCalendar holds the public holidays observed by the transit agency.
// The network runs its Sunday service pattern on observed French public holidays.
type holidayCalendar struct {
	calendar *cal.BusinessCalendar
}

func makeHolidayCalendar() *holidayCalendar {
	calendar := cal.NewBusinessCalendar()
	calendar.AddHoliday(fr.Holidays...)
	return &holidayCalendar{calendar: calendar}
}

// isHoliday returns true if at is on an observed public holiday
func (h *holidayCalendar) isHoliday(at time.Time) bool {
	_, observed, _ := h.calendar.IsHoliday(at)
	return observed
}

// activeOn reports whether the calendar's service runs on serviceDate.
// weekday is the effective weekday after any holiday substitution.
func (c *Calendar) activeOn(serviceDate time.Time, weekday time.Weekday) bool {
	if serviceDate.Before(c.StartDate) || serviceDate.After(c.EndDate) {
		return false
	}
	switch weekday {
	case time.Monday:
		return c.Monday == 1
	case time.Tuesday:
		return c.Tuesday == 1
	case time.Wednesday:
		return c.Wednesday == 1
	case time.Thursday:
		return c.Thursday == 1
	case time.Friday:
		return c.Friday == 1
	case time.Saturday:
		return c.Saturday == 1
	case time.Sunday:
		return c.Sunday == 1
	}
	return false
}
