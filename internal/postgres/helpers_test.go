package postgres

import "github.com/jackc/pgx/v5"

func pgxStartData(sql string) pgx.TraceQueryStartData {
	return pgx.TraceQueryStartData{SQL: sql}
}

func pgxEndData(err error) pgx.TraceQueryEndData {
	return pgx.TraceQueryEndData{Err: err}
}
