package query

import "strconv"

// PaginateQuery returns a paginated query string for the given input options.
//
// The input query string is expected as follows:
//
//	"SELECT ... WHERE (...)" <- these brackets are not optional
//
// The output query string would be as follows:
//
//	"SELECT ... WHERE (...) AND id > $n ORDER BY id ASC LIMIT $n+1"
//	-or-
//	"SELECT ... WHERE (...) AND id < $n ORDER BY id DESC LIMIT $n+1"
//
// Example:
//
//	query := "SELECT * FROM table WHERE (kind = $1)"
//	opts := []interface{}{3}
//
//	PaginateQuery(query, opts, ToCursor(123), 10, Ascending)
//	> "SELECT * FROM table WHERE (kind = $1) AND id > $2 ORDER BY id ASC LIMIT $3"
func PaginateQuery(query string, opts []interface{},
	cursor Cursor, limit uint64, direction Ordering) (string, []interface{}) {

	if len(cursor) > 0 {
		v := strconv.Itoa(len(opts) + 1)

		if direction == Ascending {
			query += " AND id > $" + v
		} else {
			query += " AND id < $" + v
		}

		opts = append(opts, cursor.ToUint64())
	}

	if direction == Ascending {
		query += " ORDER BY id ASC"
	} else {
		query += " ORDER BY id DESC"
	}

	if limit > 0 {
		v := strconv.Itoa(len(opts) + 1)

		query += " LIMIT $" + v

		opts = append(opts, limit)
	}

	return query, opts
}
