package testsupport

// EchoWorker is a worker script that logs one line and reports success for
// every assignment.
const EchoWorker = `#!/bin/sh
while IFS= read -r line; do
  case "$line" in
    *'"type":"shutdown"'*) exit 0 ;;
  esac
  id=$(printf '%s' "$line" | sed -n 's/.*"asset_id":"\([^"]*\)".*/\1/p')
  printf '{"type":"log","payload":{"level":"info","message":"processing"}}\n'
  printf '{"type":"process_asset_response","payload":{"asset_id":"%s","status":"success"}}\n' "$id"
done
`
