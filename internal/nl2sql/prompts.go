package nl2sql

import (
	"sort"
	"strings"
)

const textToSQLTemplate = "Given an input question, first create a syntactically correct {dialect} " +
	"query to run, then look at the results of the query and return the answer. " +
	"You can order the results by a relevant column to return the most " +
	"interesting examples in the database.\n\n" +
	"Never query for all the columns from a specific table, only ask for a " +
	"few relevant columns given the question.\n\n" +
	"Pay attention to use only the column names that you can see in the schema " +
	"description. " +
	"Be careful to not query for columns that do not exist. " +
	"Pay attention to which column is in which table. " +
	"Also, qualify column names with the table name when needed. " +
	"You are required to use the following format, each taking one line:\n\n" +
	"Question: Question here\n" +
	"SQLQuery: SQL Query to run\n" +
	"SQLResult: Result of the SQLQuery\n" +
	"Answer: Final answer here\n\n" +
	"Only use tables listed below.\n" +
	"{schema}\n\n" +
	"Question: {query_str}\n" +
	"SQLQuery: "

const responseSynthesisTemplate = "Given an input question, synthesize a response from the query results.\n" +
	"Query: {query_str}\n" +
	"SQL: {sql_query}\n" +
	"SQL Response: {context_str}\n" +
	"Response:"

const tableSummaryTemplate = `Given the following table data, generate a JSON summary with the fields 'table_name' and 'table_summary'.

Requirements:
- The 'table_name' must be unique and descriptive, using underscores instead of spaces.
- Do NOT output a generic or previously used table name (e.g., 'table', 'my_table', or any from the list: {exclude_table_name_list}).
- Incorporate unique aspects of the table data into the 'table_name' to ensure uniqueness.
- The 'table_summary' should be a concise description of the table's content.

Table Data:
{table_str}

Summary:
`

// TextToSQLPrompt asks for a Question/SQLQuery/SQLResult/Answer completion
// restricted to the tables described in schema.
func TextToSQLPrompt(dialect, schema, query string) string {
	return fill(textToSQLTemplate, map[string]string{
		"dialect":   dialect,
		"schema":    schema,
		"query_str": query,
	})
}

func ResponseSynthesisPrompt(query, sql, rows string) string {
	return fill(responseSynthesisTemplate, map[string]string{
		"query_str":   query,
		"sql_query":   sql,
		"context_str": rows,
	})
}

// TableSummaryPrompt lists excluded names sorted, e.g. ['a', 'b'].
func TableSummaryPrompt(tableSample string, excluded []string) string {
	names := append([]string(nil), excluded...)
	sort.Strings(names)
	quoted := make([]string, 0, len(names))
	for _, name := range names {
		quoted = append(quoted, pyString(name))
	}
	return fill(tableSummaryTemplate, map[string]string{
		"exclude_table_name_list": "[" + strings.Join(quoted, ", ") + "]",
		"table_str":               tableSample,
	})
}

// fill substitutes every placeholder in one pass so that values containing
// braces are never re-expanded.
func fill(template string, values map[string]string) string {
	pairs := make([]string, 0, len(values)*2)
	for key, value := range values {
		pairs = append(pairs, "{"+key+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
