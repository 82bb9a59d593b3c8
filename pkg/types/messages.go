package types

// Client -> Server (websocket /ws)
// GetState: {}
//   replies with a StateSnapshot
//
// Anything else is answered with an Error.

// Server -> Client
// StateSnapshot:
//   type: "StateSnapshot"
//   version: number // bumps after every successful operator command
//   view:
//     summary: string
//     round: number
//     phase: "setup" | "in_progress" | "results_processed" | "advanced" | "complete"
//     completed: boolean
//     tally: { live, eliminated, finished, contests }
//     digest: string // placement fingerprint of the last processed round
//     validation: { round: number, violations: string[] }
//     rounds: Round[] // each Round has number|phase|contests
//     // each contest has slot|type|state|ref|seats|ranking
//     standings: Entry[] // each Entry has place|team_id|name|out
//
// Error:
//   type: "Error"
//   error: string

// HTTP (operator routes need basic auth)
// POST /contests        -> CommandResponse with report
// POST /seed            -> CommandResponse
// POST /round/start     <- { start_time?: RFC3339 }
// POST /round/refresh   -> CommandResponse
// POST /round/process   -> CommandResponse, errors[] on per-contest failure
// POST /coinflips       <- { slot: string, order: number[] }
// POST /round/activate  -> CommandResponse
//
// CommandResponse:
//   version: number
//   summary: string
//   report: { rounds: [{ round, planned, created }] } // /contests only
//   error: string
//   errors: string[]
