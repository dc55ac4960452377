package engine

// bootstrapSource is the Python program every Instance runs. It loops over
// newline-delimited JSON commands on stdin, executes each against either the
// persistent globals dict or a fresh one (reset), evaluates a trailing
// expression REPL-style, and reports framed events on stderr. Each done
// frame echoes the command's sequence number so the host can match replies
// to the command that produced them.
//
// Every BaseException raised by user code, including SystemExit, is captured
// and reported as a done frame; nothing user code does may break the loop.
const bootstrapSource = `
import sys, json, ast, traceback

def _emit(payload):
    sys.stderr.write("\x00PYRITE:" + json.dumps(payload) + "\x00")
    sys.stderr.flush()

def _run(code, ns):
    tree = ast.parse(code, "<exec>", "exec")
    tail = None
    if tree.body and isinstance(tree.body[-1], ast.Expr):
        tail = ast.Expression(tree.body.pop().value)
    exec(compile(tree, "<exec>", "exec"), ns)
    if tail is not None:
        value = eval(compile(tail, "<exec>", "eval"), ns)
        if value is not None:
            return repr(value)
    return None

_globals = {"__name__": "__main__"}

_emit({"event": "ready"})

for _line in sys.stdin:
    _line = _line.strip()
    if not _line:
        continue
    try:
        _cmd = json.loads(_line)
    except ValueError:
        _emit({"event": "done", "ok": False, "etype": "ProtocolError",
               "error": "ProtocolError: malformed command"})
        continue
    _seq = _cmd.get("seq", 0)
    _fresh = bool(_cmd.get("reset"))
    _ns = {"__name__": "__main__"} if _fresh else _globals
    try:
        _repr = _run(_cmd.get("code", ""), _ns)
        _emit({"event": "done", "seq": _seq, "ok": True, "repr": _repr})
    except BaseException as _exc:
        _desc = "".join(
            traceback.format_exception_only(type(_exc), _exc)).strip()
        _emit({"event": "done", "seq": _seq, "ok": False,
               "etype": type(_exc).__name__, "error": _desc})
    finally:
        if _fresh:
            _ns.clear()
            del _ns
        try:
            sys.stdout.flush()
        except Exception:
            pass
`
