/*
Package `worker` talks to the inference workers announced on the ledger. The
package includes:
  - **Client** (./client.go): capability probe used by the registry health
    checks.
  - **Proxy** (./proxy.go): forwards a chat exchange to one worker and turns its
    newline-delimited JSON stream into a sequence of chunks.
  - **LineReader** (./stream.go): splits a response body into complete lines.
*/
package worker
