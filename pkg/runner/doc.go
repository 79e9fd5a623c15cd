// Package runner executes Pagehand task files without supervision.
//
// A task file is YAML: an optional start URL followed by goto, act, extract
// and observe steps.
//
//	task: checkout
//	url: https://shop.example/
//	steps:
//	  - act: add the first product to the basket
//	  - name: basket total
//	    extract: the basket total
//	    schema:
//	      type: object
//	      properties:
//	        total: {type: string}
//	  - observe: the checkout button
//	constraints:
//	  allowed_urls: ["https://shop.example/**"]
//	  timeout: 2m
//
// Every navigation, including the pages acts land on, is checked against
// the URL globs. A constraint violation ends the run; other failures end it
// unless continue_on_failure is set.
//
// When a run finishes, successful or not, the runner writes execution.json,
// summary.md, results.json (the extract and observe outputs) and
// metrics.json to the artifact directory.
//
// Progress goes to a Console, or to a Progress view in interactive
// terminals. RunAll runs several tasks concurrently, each on its own page.
package runner
